package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalog-importer/internal/core"
	"github.com/JonMunkholm/catalog-importer/internal/store/memory"
)

type capturedRequest struct {
	Method      string
	ContentType string
	UserAgent   string
	Body        core.Notification
}

func captureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n core.Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			Method:      r.Method,
			ContentType: r.Header.Get("Content-Type"),
			UserAgent:   r.Header.Get("User-Agent"),
			Body:        n,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func createSub(t *testing.T, s *memory.Store, url, event string, enabled bool) *core.Subscription {
	t.Helper()
	sub, err := s.CreateSubscription(context.Background(), &core.Subscription{URL: url, EventType: event, Enabled: enabled})
	require.NoError(t, err)
	return sub
}

func TestDispatchEvent_OnlyEnabledMatching(t *testing.T) {
	f := newFixture(500)
	srv, requests := captureServer(t, http.StatusOK)

	target := createSub(t, f.store, srv.URL+"/hook", core.EventImportCompleted, true)
	createSub(t, f.store, srv.URL+"/disabled", core.EventImportCompleted, false)
	createSub(t, f.store, srv.URL+"/other", "product.deleted", true)

	require.NoError(t, f.svc.DispatchEvent(context.Background(), core.EventImportCompleted))

	deliveries := f.queue.named(core.TaskDeliverWebhook)
	require.Len(t, deliveries, 1)

	var args core.DeliverWebhookArgs
	require.NoError(t, json.Unmarshal(deliveries[0].Args, &args))
	assert.Equal(t, target.ID, args.SubscriptionID)

	f.queue.drain(t, f.svc)

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPost, got[0].Method)
	assert.Equal(t, "application/json", got[0].ContentType)
	assert.Equal(t, "catalog-importer-test", got[0].UserAgent)
	assert.Equal(t, core.Notification{Test: true, EventType: core.EventImportCompleted}, got[0].Body)

	sub, err := f.store.GetSubscription(context.Background(), target.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.LastResponseCode)
	assert.Equal(t, http.StatusOK, *sub.LastResponseCode)
	require.NotNil(t, sub.LastResponseTimeMs)
	assert.GreaterOrEqual(t, *sub.LastResponseTimeMs, 0.0)
}

func TestDispatchEvent_NoSubscribers(t *testing.T) {
	f := newFixture(500)
	require.NoError(t, f.svc.DispatchEvent(context.Background(), core.EventImportCompleted))
	assert.Empty(t, f.queue.named(core.TaskDeliverWebhook))
}

func TestDispatchEvent_EnqueueFailureDoesNotRaise(t *testing.T) {
	f := newFixture(500)
	createSub(t, f.store, "http://example.invalid/a", core.EventImportCompleted, true)
	f.queue.fail[core.TaskDeliverWebhook] = errors.New("broker down")

	assert.NoError(t, f.svc.DispatchEvent(context.Background(), core.EventImportCompleted))
}

func TestDeliver_UnreachableRecordsNullCode(t *testing.T) {
	f := newFixture(500)

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	sub := createSub(t, f.store, url, core.EventImportCompleted, true)

	require.NoError(t, f.svc.DeliverWebhook(context.Background(), sub.ID))

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastResponseCode)
	require.NotNil(t, got.LastResponseTimeMs)
	assert.GreaterOrEqual(t, *got.LastResponseTimeMs, 0.0)
}

func TestDeliver_TimeoutRecordsNullCode(t *testing.T) {
	f := newFixture(500)
	cfg := testConfig(500)
	cfg.Webhook.Timeout = 50 * time.Millisecond
	svc := core.NewService(f.store, f.files, f.queue, cfg)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		slow.Close()
	})

	sub := createSub(t, f.store, slow.URL, core.EventImportCompleted, true)
	require.NoError(t, svc.DeliverWebhook(context.Background(), sub.ID))

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastResponseCode)
	require.NotNil(t, got.LastResponseTimeMs)
	assert.GreaterOrEqual(t, *got.LastResponseTimeMs, 50.0)
}

func TestDeliver_ErrorStatusIsRecorded(t *testing.T) {
	f := newFixture(500)
	srv, _ := captureServer(t, http.StatusInternalServerError)
	sub := createSub(t, f.store, srv.URL, "custom.event", false)

	// Manual tests deliver regardless of the enabled flag.
	require.NoError(t, f.svc.DeliverWebhook(context.Background(), sub.ID))

	got, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastResponseCode)
	assert.Equal(t, http.StatusInternalServerError, *got.LastResponseCode)
}

func TestDeliver_DeletedSubscriptionIsDropped(t *testing.T) {
	f := newFixture(500)
	assert.NoError(t, f.svc.DeliverWebhook(context.Background(), 999))
}

func TestEndToEnd_ImportNotifiesSubscribers(t *testing.T) {
	f := newFixture(500)
	srv, requests := captureServer(t, http.StatusAccepted)
	createSub(t, f.store, srv.URL, core.EventImportCompleted, true)

	job, err := f.svc.SubmitImport(context.Background(), "catalog.csv",
		strings.NewReader("sku,name,price\nABC-1,Widget,9.99\n"))
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, job.Status)

	f.queue.drain(t, f.svc)

	done, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, done.Status)
	assert.Equal(t, 1, done.ProcessedRows)
	assert.Len(t, requests(), 1)
	assert.Empty(t, f.files.data, "spooled upload should be gone")
}
