package retention

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forfar/internal/blob"
	"forfar/internal/config"
	"forfar/internal/db"
)

func setupDB(t *testing.T) {
	t.Helper()

	require.NoError(t, db.Init(db.Config{Path: ":memory:"}))

	for _, table := range []string{"render_jobs", "checks", "webhooks", "printers", "settings"} {
		_, err := db.GetDB().Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
}

func newArchiver(t *testing.T, blobs BlobDeleter) (*Archiver, string) {
	t.Helper()

	dir := t.TempDir()
	a, err := NewArchiver(db.GetDB(), blobs, &config.RetentionConfig{
		ArchivePath: dir,
		KeepDays:    30,
	})
	require.NoError(t, err)
	return a, dir
}

func insertPrintedCheck(t *testing.T, printerID int64, orderID, pdfKey string, age time.Duration) int64 {
	t.Helper()

	ts := time.Now().Add(-age)
	res, err := db.GetDB().Exec(`
		INSERT INTO checks (printer_id, type, order_id, order_json, status, pdf_key, created_at, updated_at)
		VALUES (?, 'client', ?, '{}', 'printed', ?, ?, ?)
	`, printerID, orderID, pdfKey, ts, ts)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRunSweepArchivesOldPrintedChecks(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	p := &db.Printer{Name: "p", APIKey: "key-1", CheckType: "client", PointID: 1}
	require.NoError(t, db.Printers.CreatePrinter(ctx, p))

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, blobs.Put("1_client.pdf", []byte("%PDF old")))
	require.NoError(t, blobs.Put("2_client.pdf", []byte("%PDF fresh")))

	oldID := insertPrintedCheck(t, p.ID, "1", "1_client.pdf", 60*24*time.Hour)
	freshID := insertPrintedCheck(t, p.ID, "2", "2_client.pdf", time.Hour)

	job := &db.RenderJob{CheckID: oldID}
	require.NoError(t, db.Jobs.CreateJob(ctx, job))
	require.NoError(t, db.Jobs.MarkJobDone(ctx, job.ID))

	a, dir := newArchiver(t, blobs)
	result, err := a.RunSweep()
	require.NoError(t, err)

	assert.Equal(t, 1, result.ArchivedChecks)
	assert.Equal(t, 1, result.DeletedJobs)
	assert.Equal(t, 1, result.DeletedBlobs)
	require.NotEmpty(t, result.ArchiveFile)

	// The old check, its job, and its blob are gone from the live system.
	_, err = db.Checks.GetCheckByID(ctx, oldID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = db.Jobs.GetJobByID(ctx, job.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	exists, err := blobs.Exists("1_client.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	// The fresh check is untouched.
	_, err = db.Checks.GetCheckByID(ctx, freshID)
	require.NoError(t, err)
	exists, err = blobs.Exists("2_client.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	// The archived row is readable from the archive file.
	archiveDB, err := sql.Open("sqlite3", filepath.Join(dir, result.ArchiveFile))
	require.NoError(t, err)
	defer archiveDB.Close()

	var orderID string
	require.NoError(t, archiveDB.QueryRow("SELECT order_id FROM checks WHERE id = ?", oldID).Scan(&orderID))
	assert.Equal(t, "1", orderID)
}

func TestRunSweepKeepsSharedBlobs(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	p1 := &db.Printer{Name: "p1", APIKey: "key-1", CheckType: "client", PointID: 1}
	require.NoError(t, db.Printers.CreatePrinter(ctx, p1))
	p2 := &db.Printer{Name: "p2", APIKey: "key-2", CheckType: "client", PointID: 2}
	require.NoError(t, db.Printers.CreatePrinter(ctx, p2))

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, blobs.Put("1_client.pdf", []byte("%PDF shared")))

	// Two checks share the blob key; only one is old enough to archive.
	insertPrintedCheck(t, p1.ID, "1", "1_client.pdf", 60*24*time.Hour)
	insertPrintedCheck(t, p2.ID, "1", "1_client.pdf", time.Hour)

	a, _ := newArchiver(t, blobs)
	result, err := a.RunSweep()
	require.NoError(t, err)

	assert.Equal(t, 1, result.ArchivedChecks)
	assert.Zero(t, result.DeletedBlobs)

	exists, err := blobs.Exists("1_client.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunSweepNothingToArchive(t *testing.T) {
	setupDB(t)

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	a, _ := newArchiver(t, blobs)
	result, err := a.RunSweep()
	require.NoError(t, err)
	assert.Zero(t, result.ArchivedChecks)
	assert.Empty(t, result.ArchiveFile)
}

func TestListArchives(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	p := &db.Printer{Name: "p", APIKey: "key-1", CheckType: "client", PointID: 1}
	require.NoError(t, db.Printers.CreatePrinter(ctx, p))

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	a, _ := newArchiver(t, blobs)

	files, err := a.ListArchives()
	require.NoError(t, err)
	assert.Empty(t, files)

	insertPrintedCheck(t, p.ID, "1", "", 60*24*time.Hour)
	result, err := a.RunSweep()
	require.NoError(t, err)
	require.Equal(t, 1, result.ArchivedChecks)

	files, err = a.ListArchives()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, result.ArchiveFile, files[0].Filename)
	assert.NotZero(t, files[0].Size)
}
