// Package retention moves old printed checks out of the live database
// into monthly archive files and removes the PDF blobs that no live
// check references anymore.
package retention

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"forfar/internal/config"
	"forfar/internal/core"
)

// BlobDeleter is the slice of the blob store the sweeper needs.
type BlobDeleter interface {
	Delete(key string) error
}

type Archiver struct {
	db          *sql.DB
	blobs       BlobDeleter
	archivePath string
	keepDays    int
	stopCh      chan struct{}
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type SweepResult struct {
	ArchivedChecks int    `json:"archived_checks"`
	DeletedJobs    int    `json:"deleted_jobs"`
	DeletedBlobs   int    `json:"deleted_blobs"`
	ArchiveFile    string `json:"archive_file,omitempty"`
}

func NewArchiver(db *sql.DB, blobs BlobDeleter, cfg *config.RetentionConfig) (*Archiver, error) {
	archivePath := cfg.ArchivePath
	if archivePath == "" {
		archivePath = "./data/archives"
	}
	keepDays := cfg.KeepDays
	if keepDays <= 0 {
		keepDays = 30
	}

	if err := os.MkdirAll(archivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:          db,
		blobs:       blobs,
		archivePath: archivePath,
		keepDays:    keepDays,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.runDailySweep()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
}

func (a *Archiver) runDailySweep() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.RunSweep(); err != nil {
				log.Printf("retention: sweep failed: %v", err)
			}
		}
	}
}

type archivedCheck struct {
	ID        int64
	PrinterID int64
	Type      string
	OrderID   string
	OrderJSON string
	Status    string
	PDFKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunSweep archives every printed check older than the retention window,
// deletes its render jobs, and removes its blob once no remaining check
// shares the key.
func (a *Archiver) RunSweep() (*SweepResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -a.keepDays)

	checks, err := a.getChecksForArchival(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get checks for archival: %w", err)
	}

	result := &SweepResult{}
	if len(checks) == 0 {
		return result, nil
	}

	archiveDBPath := filepath.Join(a.archivePath, fmt.Sprintf("archive_%s.db", time.Now().Format("2006_01")))

	archiveDB, err := a.openOrCreateArchiveDB(archiveDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, chk := range checks {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO checks (id, printer_id, type, order_id, order_json, status, pdf_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, chk.ID, chk.PrinterID, chk.Type, chk.OrderID, chk.OrderJSON, chk.Status, chk.PDFKey, chk.CreatedAt, chk.UpdatedAt); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to copy check %d to archive: %w", chk.ID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, time.Now()); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	deletedJobs, deletedBlobs, err := a.deleteArchivedChecks(checks)
	if err != nil {
		return nil, err
	}

	result.ArchivedChecks = len(checks)
	result.DeletedJobs = deletedJobs
	result.DeletedBlobs = deletedBlobs
	result.ArchiveFile = filepath.Base(archiveDBPath)

	log.Printf("retention: archived %d checks, deleted %d jobs and %d blobs into %s",
		result.ArchivedChecks, result.DeletedJobs, result.DeletedBlobs, result.ArchiveFile)
	return result, nil
}

func (a *Archiver) getChecksForArchival(cutoff time.Time) ([]*archivedCheck, error) {
	rows, err := a.db.Query(`
		SELECT id, printer_id, type, order_id, order_json, status, pdf_key, created_at, updated_at
		FROM checks
		WHERE status = 'printed' AND updated_at < ?
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*archivedCheck
	for rows.Next() {
		chk := &archivedCheck{}
		if err := rows.Scan(
			&chk.ID, &chk.PrinterID, &chk.Type, &chk.OrderID, &chk.OrderJSON,
			&chk.Status, &chk.PDFKey, &chk.CreatedAt, &chk.UpdatedAt,
		); err != nil {
			return nil, err
		}
		checks = append(checks, chk)
	}
	return checks, rows.Err()
}

func (a *Archiver) openOrCreateArchiveDB(path string) (*sql.DB, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS checks (
			id INTEGER PRIMARY KEY,
			printer_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			order_id TEXT NOT NULL,
			order_json TEXT NOT NULL,
			status TEXT NOT NULL,
			pdf_key TEXT NOT NULL DEFAULT '',
			created_at DATETIME,
			updated_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_checks_order ON checks(order_id);
	`); err != nil {
		archiveDB.Close()
		return nil, err
	}

	return archiveDB, nil
}

func (a *Archiver) deleteArchivedChecks(checks []*archivedCheck) (deletedJobs, deletedBlobs int, err error) {
	for _, chk := range checks {
		res, err := a.db.Exec("DELETE FROM render_jobs WHERE check_id = ?", chk.ID)
		if err != nil {
			return deletedJobs, deletedBlobs, fmt.Errorf("failed to delete jobs for check %d: %w", chk.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deletedJobs += int(n)
		}

		if _, err := a.db.Exec("DELETE FROM checks WHERE id = ?", chk.ID); err != nil {
			return deletedJobs, deletedBlobs, fmt.Errorf("failed to delete check %d: %w", chk.ID, err)
		}

		removed, err := a.removeOrphanedBlob(chk)
		if err != nil {
			return deletedJobs, deletedBlobs, err
		}
		if removed {
			deletedBlobs++
		}
	}
	return deletedJobs, deletedBlobs, nil
}

// removeOrphanedBlob deletes the check's PDF only when no live check
// still references the same key. Keys derive from (order id, type), so
// checks for the same order on different points can share a blob.
func (a *Archiver) removeOrphanedBlob(chk *archivedCheck) (bool, error) {
	key := chk.PDFKey
	if key == "" {
		key = core.PDFKey(chk.OrderID, core.CheckType(chk.Type))
	}

	var refs int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM checks WHERE pdf_key = ?", key).Scan(&refs); err != nil {
		return false, fmt.Errorf("failed to count blob references for %s: %w", key, err)
	}
	if refs > 0 {
		return false, nil
	}

	if err := a.blobs.Delete(key); err != nil {
		return false, fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return true, nil
}

// ListArchives returns the archive files on disk, newest first.
func (a *Archiver) ListArchives() ([]ArchiveFile, error) {
	entries, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	files := make([]ArchiveFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, ArchiveFile{
			Filename:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}
