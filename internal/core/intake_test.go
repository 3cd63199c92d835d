package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newPrinter(t *testing.T, apiKey, checkType string, pointID int64) *db.Printer {
	t.Helper()

	p := &db.Printer{
		Name:      "printer " + apiKey,
		APIKey:    apiKey,
		CheckType: checkType,
		PointID:   pointID,
	}
	require.NoError(t, db.Printers.CreatePrinter(context.Background(), p))
	return p
}

type fakeEnqueuer struct {
	checkIDs []int64
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, checkID int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.checkIDs = append(f.checkIDs, checkID)
	return int64(len(f.checkIDs)), nil
}

func TestSubmitOrderFansOutPerPrinter(t *testing.T) {
	setupDB(t)
	ctx := context.Background()

	client := newPrinter(t, "key-client", "client", 1)
	kitchen := newPrinter(t, "key-kitchen", "kitchen", 1)
	newPrinter(t, "key-other", "client", 2)

	queue := &fakeEnqueuer{}
	intake := NewIntake(queue)

	err := intake.SubmitOrder(ctx, []byte(`{"id": 42, "point_id": 1, "items": [{"name": "soup"}]}`))
	require.NoError(t, err)

	clientChecks, err := db.Checks.ListNewChecksByPrinter(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, clientChecks, 1)
	assert.Equal(t, "42", clientChecks[0].OrderID)
	assert.Equal(t, "client", clientChecks[0].Type)

	kitchenChecks, err := db.Checks.ListNewChecksByPrinter(ctx, kitchen.ID)
	require.NoError(t, err)
	require.Len(t, kitchenChecks, 1)
	assert.Equal(t, "kitchen", kitchenChecks[0].Type)

	// One render job enqueued per created check.
	assert.Len(t, queue.checkIDs, 2)

	count, err := db.Checks.CountChecksByOrder(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSubmitOrderInvalidPayload(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	intake := NewIntake(&fakeEnqueuer{})

	for name, body := range map[string]string{
		"malformed json":   `{"id": `,
		"missing id":       `{"point_id": 1}`,
		"missing point_id": `{"id": 42}`,
		"bad id type":      `{"id": [1], "point_id": 1}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := intake.SubmitOrder(ctx, []byte(body))
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestSubmitOrderNoPrintersForPoint(t *testing.T) {
	setupDB(t)
	newPrinter(t, "key-1", "client", 1)

	intake := NewIntake(&fakeEnqueuer{})
	err := intake.SubmitOrder(context.Background(), []byte(`{"id": 42, "point_id": 9}`))
	assert.ErrorIs(t, err, ErrNoPrinters)
}

func TestSubmitOrderDuplicateRejected(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	newPrinter(t, "key-1", "client", 1)

	queue := &fakeEnqueuer{}
	intake := NewIntake(queue)

	require.NoError(t, intake.SubmitOrder(ctx, []byte(`{"id": 42, "point_id": 1}`)))

	err := intake.SubmitOrder(ctx, []byte(`{"id": 42, "point_id": 1}`))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	// No extra checks or jobs from the rejected submission.
	count, err := db.Checks.CountChecksByOrder(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Len(t, queue.checkIDs, 1)
}

func TestSubmitOrderNumericAndStringIDsShareKey(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	newPrinter(t, "key-1", "client", 1)

	intake := NewIntake(&fakeEnqueuer{})

	require.NoError(t, intake.SubmitOrder(ctx, []byte(`{"id": 42, "point_id": 1}`)))

	// The same order resubmitted with a string id hits the same key.
	err := intake.SubmitOrder(ctx, []byte(`{"id": "42", "point_id": 1}`))
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestNormalizeOrderID(t *testing.T) {
	assert.Equal(t, "42", normalizeOrderID("42"))
	assert.Equal(t, "", normalizeOrderID(nil))
	assert.Equal(t, "", normalizeOrderID(3.14))
}

func TestPDFKey(t *testing.T) {
	assert.Equal(t, "42_client.pdf", PDFKey("42", CheckTypeClient))
	assert.Equal(t, "42_kitchen.pdf", PDFKey("42", CheckTypeKitchen))
}
