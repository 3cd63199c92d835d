package db

const (
	InsertPrinter = `
		INSERT INTO printers (name, api_key, check_type, point_id)
		VALUES (?, ?, ?, ?)
	`

	GetPrinterByID = `
		SELECT id, name, api_key, check_type, point_id, created_at, updated_at
		FROM printers WHERE id = ?
	`

	GetPrinterByAPIKey = `
		SELECT id, name, api_key, check_type, point_id, created_at, updated_at
		FROM printers WHERE api_key = ?
	`

	ListPrinters = `
		SELECT id, name, api_key, check_type, point_id, created_at, updated_at
		FROM printers ORDER BY name ASC
	`

	ListPrintersByPoint = `
		SELECT id, name, api_key, check_type, point_id, created_at, updated_at
		FROM printers WHERE point_id = ? ORDER BY id ASC
	`

	UpdatePrinter = `
		UPDATE printers SET name = ?, check_type = ?, point_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	DeletePrinter = `DELETE FROM printers WHERE id = ?`
)

const (
	InsertCheck = `
		INSERT INTO checks (printer_id, type, order_id, order_json, status)
		VALUES (?, ?, ?, ?, ?)
	`

	GetCheckByID = `
		SELECT id, printer_id, type, order_id, order_json, status, pdf_key, created_at, updated_at
		FROM checks WHERE id = ?
	`

	ListNewChecksByPrinter = `
		SELECT id, printer_id, type, order_id, order_json, status, pdf_key, created_at, updated_at
		FROM checks WHERE printer_id = ? AND status = 'new' ORDER BY id ASC
	`

	CountChecksByOrder = `SELECT COUNT(*) FROM checks WHERE order_id = ?`

	// Conditional transitions: the WHERE clause on the current status makes
	// each edge a compare-and-swap at the storage layer, so concurrent
	// writers cannot double-apply a transition or move a check backwards.
	MarkCheckRendered = `
		UPDATE checks SET status = 'rendered', pdf_key = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'new'
	`

	MarkCheckPrinted = `
		UPDATE checks SET status = 'printed', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'rendered'
	`
)

const (
	InsertRenderJob = `
		INSERT INTO render_jobs (check_id, status)
		VALUES (?, 'pending')
	`

	GetRenderJobByID = `
		SELECT id, check_id, status, attempts, error_message, created_at, started_at, completed_at
		FROM render_jobs WHERE id = ?
	`

	ListPendingRenderJobs = `
		SELECT id FROM render_jobs WHERE status = 'pending' ORDER BY id ASC LIMIT ?
	`

	MarkRenderJobProcessing = `
		UPDATE render_jobs SET status = 'processing', started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	MarkRenderJobDone = `
		UPDATE render_jobs SET status = 'done', error_message = '', completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	MarkRenderJobDead = `
		UPDATE render_jobs SET status = 'dead', error_message = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	IncrementRenderJobAttempts = `
		UPDATE render_jobs SET attempts = attempts + 1 WHERE id = ?
	`

	RequeueRenderJob = `
		UPDATE render_jobs SET status = 'pending', started_at = NULL, completed_at = NULL
		WHERE id = ?
	`

	ResetRenderJob = `
		UPDATE render_jobs SET status = 'pending', attempts = 0, error_message = '', started_at = NULL, completed_at = NULL
		WHERE id = ? AND status = 'dead'
	`

	ResetProcessingRenderJobs = `
		UPDATE render_jobs SET status = 'pending' WHERE status = 'processing'
	`

	CountRenderJobsByStatus = `
		SELECT status, COUNT(*) FROM render_jobs GROUP BY status
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = CURRENT_TIMESTAMP
	`
)
