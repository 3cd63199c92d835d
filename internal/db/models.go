package db

import (
	"time"
)

type Printer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CheckType string    `json:"check_type"`
	PointID   int64     `json:"point_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Check struct {
	ID        int64     `json:"id"`
	PrinterID int64     `json:"printer_id"`
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	OrderJSON string    `json:"order_json"`
	Status    string    `json:"status"`
	PDFKey    string    `json:"pdf_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RenderJob struct {
	ID           int64      `json:"id"`
	CheckID      int64      `json:"check_id"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobFilter struct {
	CheckID int64
	Status  string
	Limit   int
	Offset  int
}
