package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type capturedDelivery struct {
	body      []byte
	signature string
}

func newSenderWithReceiver(t *testing.T) (*Sender, *httptest.Server, func() []capturedDelivery) {
	t.Helper()

	var mu sync.Mutex
	var deliveries []capturedDelivery

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mu.Lock()
		deliveries = append(deliveries, capturedDelivery{
			body:      body,
			signature: r.Header.Get("X-Forfar-Signature"),
		})
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(&config.WebhooksConfig{
		Timeout:     time.Second,
		WorkerCount: 1,
		QueueSize:   10,
	})
	sender.Start()
	t.Cleanup(sender.Stop)

	return sender, srv, func() []capturedDelivery {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedDelivery, len(deliveries))
		copy(out, deliveries)
		return out
	}
}

func registerWebhook(t *testing.T, url, secret string, events ...string) {
	t.Helper()

	eventsJSON, err := json.Marshal(events)
	require.NoError(t, err)

	hook := &db.Webhook{
		Name:       "test hook",
		URL:        url,
		Secret:     secret,
		EventsJSON: string(eventsJSON),
		Enabled:    true,
	}
	require.NoError(t, db.Webhooks.CreateWebhook(context.Background(), hook))
}

func TestSendCheckEventDeliversSignedPayload(t *testing.T) {
	setupDB(t)
	sender, srv, deliveries := newSenderWithReceiver(t)
	registerWebhook(t, srv.URL, "hush", string(EventCheckRendered))

	sender.SendCheckEvent(string(EventCheckRendered), 7, 3, "")

	require.Eventually(t, func() bool {
		return len(deliveries()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	got := deliveries()[0]

	var payload Payload
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, string(EventCheckRendered), payload.Event)

	data, ok := payload.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 7, data["check_id"])
	assert.EqualValues(t, 3, data["printer_id"])

	mac := hmac.New(sha256.New, []byte("hush"))
	mac.Write(got.body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.signature)
}

func TestSendCheckEventFiltersBySubscription(t *testing.T) {
	setupDB(t)
	sender, srv, deliveries := newSenderWithReceiver(t)
	registerWebhook(t, srv.URL, "", string(EventCheckPrinted))

	sender.SendCheckEvent(string(EventCheckRendered), 7, 3, "")
	sender.SendCheckEvent(string(EventCheckPrinted), 7, 3, "")

	require.Eventually(t, func() bool {
		return len(deliveries()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, json.Unmarshal(deliveries()[0].body, &payload))
	assert.Equal(t, string(EventCheckPrinted), payload.Event)
}

func TestSendCheckEventSkipsDisabledWebhooks(t *testing.T) {
	setupDB(t)
	sender, srv, deliveries := newSenderWithReceiver(t)

	hook := &db.Webhook{
		Name:       "disabled hook",
		URL:        srv.URL,
		EventsJSON: `["check_rendered"]`,
		Enabled:    false,
	}
	require.NoError(t, db.Webhooks.CreateWebhook(context.Background(), hook))

	sender.SendCheckEvent(string(EventCheckRendered), 7, 3, "")

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, deliveries())
}

func TestRenderFailedCarriesErrorMessage(t *testing.T) {
	setupDB(t)
	sender, srv, deliveries := newSenderWithReceiver(t)
	registerWebhook(t, srv.URL, "", string(EventRenderFailed))

	sender.SendCheckEvent(string(EventRenderFailed), 7, 3, "render service unreachable")

	require.Eventually(t, func() bool {
		return len(deliveries()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, json.Unmarshal(deliveries()[0].body, &payload))
	data := payload.Data.(map[string]interface{})
	assert.Equal(t, "render service unreachable", data["error_message"])
}
