package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"forfar/internal/config"
	"forfar/internal/db"
)

type Event string

const (
	EventCheckRendered Event = "check_rendered"
	EventCheckPrinted  Event = "check_printed"
	EventRenderFailed  Event = "render_failed"
)

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type CheckEventData struct {
	CheckID      int64  `json:"check_id"`
	PrinterID    int64  `json:"printer_id"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type task struct {
	url     string
	secret  string
	payload *Payload
}

// Sender delivers lifecycle events to registered webhooks from a small
// worker pool, so a slow listener never blocks the render pipeline.
type Sender struct {
	client  *http.Client
	taskCh  chan task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	workers int
}

func NewSender(cfg *config.WebhooksConfig) *Sender {
	if cfg == nil {
		cfg = &config.WebhooksConfig{
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		}
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}

	return &Sender{
		client:  &http.Client{Timeout: cfg.Timeout},
		taskCh:  make(chan task, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		workers: cfg.WorkerCount,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SendCheckEvent fans the event out to every enabled webhook subscribed
// to it. Queue overflow drops the delivery with a log line; webhooks are
// a best-effort surface, never back-pressure on the pipeline.
func (s *Sender) SendCheckEvent(event string, checkID, printerID int64, errorMsg string) {
	hooks, err := db.Webhooks.ListActiveWebhooksForEvent(context.Background(), event)
	if err != nil {
		log.Printf("webhook: failed to list webhooks for %s: %v", event, err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	payload := &Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data: CheckEventData{
			CheckID:      checkID,
			PrinterID:    printerID,
			ErrorMessage: errorMsg,
		},
	}

	for _, hook := range hooks {
		select {
		case s.taskCh <- task{url: hook.URL, secret: hook.Secret, payload: payload}:
		default:
			log.Printf("webhook: queue full, dropping %s for %s", event, hook.URL)
		}
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.taskCh:
			s.deliver(t)
		}
	}
}

func (s *Sender) deliver(t task) {
	body, err := json.Marshal(t.payload)
	if err != nil {
		log.Printf("webhook: failed to encode payload: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook: failed to build request for %s: %v", t.url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if t.secret != "" {
		req.Header.Set("X-Forfar-Signature", sign(body, t.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("webhook: delivery to %s failed: %v", t.url, err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("webhook: %s responded with status %d", t.url, resp.StatusCode)
	}
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
