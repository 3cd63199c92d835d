package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PrinterOperations struct{}

func (o *PrinterOperations) CreatePrinter(ctx context.Context, p *Printer) error {
	result, err := GetDB().ExecContext(ctx, InsertPrinter,
		p.Name, p.APIKey, p.CheckType, p.PointID)
	if err != nil {
		return fmt.Errorf("failed to create printer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get printer id: %w", err)
	}
	p.ID = id
	return nil
}

func (o *PrinterOperations) GetPrinterByID(ctx context.Context, id int64) (*Printer, error) {
	p := &Printer{}
	err := GetDB().QueryRowContext(ctx, GetPrinterByID, id).Scan(
		&p.ID, &p.Name, &p.APIKey, &p.CheckType, &p.PointID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer: %w", err)
	}
	return p, nil
}

func (o *PrinterOperations) GetPrinterByAPIKey(ctx context.Context, apiKey string) (*Printer, error) {
	p := &Printer{}
	err := GetDB().QueryRowContext(ctx, GetPrinterByAPIKey, apiKey).Scan(
		&p.ID, &p.Name, &p.APIKey, &p.CheckType, &p.PointID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer by api key: %w", err)
	}
	return p, nil
}

func (o *PrinterOperations) ListPrinters(ctx context.Context) ([]*Printer, error) {
	rows, err := GetDB().QueryContext(ctx, ListPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	return scanPrinters(rows)
}

func (o *PrinterOperations) ListPrintersByPoint(ctx context.Context, pointID int64) ([]*Printer, error) {
	rows, err := GetDB().QueryContext(ctx, ListPrintersByPoint, pointID)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers by point: %w", err)
	}
	defer rows.Close()

	return scanPrinters(rows)
}

func (o *PrinterOperations) UpdatePrinter(ctx context.Context, p *Printer) error {
	_, err := GetDB().ExecContext(ctx, UpdatePrinter, p.Name, p.CheckType, p.PointID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update printer: %w", err)
	}
	return nil
}

func (o *PrinterOperations) DeletePrinter(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeletePrinter, id)
	if err != nil {
		return fmt.Errorf("failed to delete printer: %w", err)
	}
	return nil
}

func scanPrinters(rows *sql.Rows) ([]*Printer, error) {
	var printers []*Printer
	for rows.Next() {
		p := &Printer{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.APIKey, &p.CheckType, &p.PointID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

type CheckOperations struct{}

func (o *CheckOperations) CreateCheck(ctx context.Context, c *Check) error {
	result, err := GetDB().ExecContext(ctx, InsertCheck,
		c.PrinterID, c.Type, c.OrderID, c.OrderJSON, c.Status)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create check: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get check id: %w", err)
	}
	c.ID = id
	return nil
}

func (o *CheckOperations) GetCheckByID(ctx context.Context, id int64) (*Check, error) {
	c := &Check{}
	err := GetDB().QueryRowContext(ctx, GetCheckByID, id).Scan(
		&c.ID, &c.PrinterID, &c.Type, &c.OrderID, &c.OrderJSON,
		&c.Status, &c.PDFKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return c, nil
}

func (o *CheckOperations) ListNewChecksByPrinter(ctx context.Context, printerID int64) ([]*Check, error) {
	rows, err := GetDB().QueryContext(ctx, ListNewChecksByPrinter, printerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list new checks: %w", err)
	}
	defer rows.Close()

	var checks []*Check
	for rows.Next() {
		c := &Check{}
		if err := rows.Scan(
			&c.ID, &c.PrinterID, &c.Type, &c.OrderID, &c.OrderJSON,
			&c.Status, &c.PDFKey, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

func (o *CheckOperations) CountChecksByOrder(ctx context.Context, orderID string) (int64, error) {
	var count int64
	err := GetDB().QueryRowContext(ctx, CountChecksByOrder, orderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count checks by order: %w", err)
	}
	return count, nil
}

// MarkCheckRendered advances a check from new to rendered and records the
// blob key. Returns false when the check was not in the new state, which
// callers treat as an already-applied transition, not an error.
func (o *CheckOperations) MarkCheckRendered(ctx context.Context, id int64, pdfKey string) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkCheckRendered, pdfKey, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark check rendered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkCheckPrinted advances a check from rendered to printed. First read
// wins: only one caller observes true, later calls are a no-op.
func (o *CheckOperations) MarkCheckPrinted(ctx context.Context, id int64) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkCheckPrinted, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark check printed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

type JobOperations struct{}

func (o *JobOperations) CreateJob(ctx context.Context, j *RenderJob) error {
	result, err := GetDB().ExecContext(ctx, InsertRenderJob, j.CheckID)
	if err != nil {
		return fmt.Errorf("failed to create render job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get render job id: %w", err)
	}
	j.ID = id
	j.Status = "pending"
	return nil
}

func (o *JobOperations) GetJobByID(ctx context.Context, id int64) (*RenderJob, error) {
	j := &RenderJob{}
	var startedAt, completedAt sql.NullTime
	err := GetDB().QueryRowContext(ctx, GetRenderJobByID, id).Scan(
		&j.ID, &j.CheckID, &j.Status, &j.Attempts, &j.ErrorMessage,
		&j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func (o *JobOperations) ListPendingJobIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := GetDB().QueryContext(ctx, ListPendingRenderJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending render jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan render job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*RenderJob, error) {
	var conditions []string
	var args []interface{}

	if filter.CheckID > 0 {
		conditions = append(conditions, "check_id = ?")
		args = append(args, filter.CheckID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT id, check_id, status, attempts, error_message, created_at, started_at, completed_at FROM render_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list render jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*RenderJob
	for rows.Next() {
		j := &RenderJob{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&j.ID, &j.CheckID, &j.Status, &j.Attempts, &j.ErrorMessage,
			&j.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan render job: %w", err)
		}
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			j.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobProcessing claims a pending job. Returns false when another
// worker got there first.
func (o *JobOperations) MarkJobProcessing(ctx context.Context, id int64) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkRenderJobProcessing, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark render job processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (o *JobOperations) MarkJobDone(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, MarkRenderJobDone, id)
	if err != nil {
		return fmt.Errorf("failed to mark render job done: %w", err)
	}
	return nil
}

func (o *JobOperations) MarkJobDead(ctx context.Context, id int64, errMsg string) error {
	_, err := GetDB().ExecContext(ctx, MarkRenderJobDead, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark render job dead: %w", err)
	}
	return nil
}

func (o *JobOperations) IncrementAttempts(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, IncrementRenderJobAttempts, id)
	if err != nil {
		return fmt.Errorf("failed to increment render job attempts: %w", err)
	}
	return nil
}

func (o *JobOperations) RequeueJob(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, RequeueRenderJob, id)
	if err != nil {
		return fmt.Errorf("failed to requeue render job: %w", err)
	}
	return nil
}

// ResetDeadJob requeues a dead-lettered job with its attempt count cleared.
func (o *JobOperations) ResetDeadJob(ctx context.Context, id int64) (bool, error) {
	result, err := GetDB().ExecContext(ctx, ResetRenderJob, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset render job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (o *JobOperations) ResetProcessingJobs(ctx context.Context) error {
	_, err := GetDB().ExecContext(ctx, ResetProcessingRenderJobs)
	if err != nil {
		return fmt.Errorf("failed to reset processing render jobs: %w", err)
	}
	return nil
}

func (o *JobOperations) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := GetDB().QueryContext(ctx, CountRenderJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count render jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan render job count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type WebhookOperations struct{}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := GetDB().ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := GetDB().QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

var (
	Printers = &PrinterOperations{}
	Checks   = &CheckOperations{}
	Jobs     = &JobOperations{}
	Webhooks = &WebhookOperations{}
	Settings = &SettingsOperations{}
)
