// Package render turns a check's order payload into a PDF: the order is
// expanded through an embedded HTML template selected by check type, and
// the resulting document is sent to a wkhtmltopdf HTTP service.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"forfar/internal/core"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pdfMagic = []byte("%PDF")

type Service struct {
	serviceURL string
	client     *http.Client
	templates  *template.Template
}

func NewService(serviceURL string, timeout time.Duration) (*Service, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse check templates: %w", err)
	}

	return &Service{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
		templates:  tmpl,
	}, nil
}

func (s *Service) Render(ctx context.Context, checkType core.CheckType, orderJSON []byte) ([]byte, error) {
	var order map[string]interface{}
	if err := json.Unmarshal(orderJSON, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order payload: %w", err)
	}

	var html bytes.Buffer
	name := fmt.Sprintf("%s_check.html", checkType)
	if err := s.templates.ExecuteTemplate(&html, name, order); err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", checkType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL, &html)
	if err != nil {
		return nil, fmt.Errorf("failed to build wkhtmltopdf request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wkhtmltopdf request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wkhtmltopdf returned status %d", resp.StatusCode)
	}

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read wkhtmltopdf response: %w", err)
	}

	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, fmt.Errorf("wkhtmltopdf returned a non-pdf payload")
	}

	return pdf, nil
}
