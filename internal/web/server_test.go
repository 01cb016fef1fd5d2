package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalog-importer/internal/config"
	"github.com/JonMunkholm/catalog-importer/internal/core"
	"github.com/JonMunkholm/catalog-importer/internal/queue"
	"github.com/JonMunkholm/catalog-importer/internal/store/memory"
	"github.com/JonMunkholm/catalog-importer/internal/uploads"
)

type testEnv struct {
	srv   *Server
	svc   *core.Service
	queue *queue.MemoryQueue
	store *memory.Store
}

func newTestEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			BatchSize:     500,
			UploadDir:     t.TempDir(),
			MaxFileSize:   maxFileSize,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
		Webhook: config.WebhookConfig{Timeout: time.Second, UserAgent: "test"},
	}

	files, err := uploads.NewDir(cfg.Import.UploadDir, cfg.Import.MaxFileSize)
	require.NoError(t, err)

	env := &testEnv{
		queue: queue.NewMemoryQueue(16, 10*time.Millisecond),
		store: memory.New(),
	}
	env.svc = core.NewService(env.store, files, env.queue, cfg)
	env.srv = NewServer(env.svc, cfg, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	return env
}

// drain runs every queued unit through the service handlers.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	handlers := e.svc.TaskHandlers()
	for e.queue.Len() > 0 {
		m, err := e.queue.Claim(context.Background())
		require.NoError(t, err)
		require.NoError(t, handlers[m.Task.Name](context.Background(), m.Task.Args))
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, body, "application/json")
}

func multipartFile(t *testing.T, field, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type jobJSON struct {
	ID            string  `json:"id"`
	Filename      string  `json:"filename"`
	Status        string  `json:"status"`
	TotalRows     *int    `json:"total_rows"`
	ProcessedRows int     `json:"processed_rows"`
	ErrorMessage  *string `json:"error_message"`
	Percent       int     `json:"percent"`
}

func TestImport_SubmitAndPoll(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	content := "SKU,Name,Price\nA-1,Widget,9.99\nB-2,Gadget,abc\n"
	body, ct := multipartFile(t, "file", "catalog.csv", content)
	rec := env.do(t, http.MethodPost, "/api/imports", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	status := env.do(t, http.MethodGet, "/api/imports/status", nil, "")
	assert.EqualValues(t, len(content), decode[map[string]any](t, status)["spooled_bytes"])

	job := decode[jobJSON](t, rec)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, "catalog.csv", job.Filename)
	assert.Zero(t, job.Percent)

	env.drain(t)

	rec = env.do(t, http.MethodGet, "/api/imports/"+job.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[jobJSON](t, rec)
	assert.Equal(t, "completed", done.Status)
	require.NotNil(t, done.TotalRows)
	assert.Equal(t, 2, *done.TotalRows)
	assert.Equal(t, 2, done.ProcessedRows)
	assert.Equal(t, 100, done.Percent)
	assert.Nil(t, done.ErrorMessage)

	rec = env.do(t, http.MethodGet, "/api/products?sku=b-2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}](t, rec)
	require.Equal(t, 1, page.Total)
	assert.Nil(t, page.Items[0]["price"], "unparseable price is stored as null")
	assert.Equal(t, true, page.Items[0]["active"])
}

func TestImport_Errors(t *testing.T) {
	env := newTestEnv(t, 16)

	rec := env.do(t, http.MethodPost, "/api/imports", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartFile(t, "other", "x.csv", "sku\na\n")
	rec = env.do(t, http.MethodPost, "/api/imports", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UPL002", decode[ErrorResponse](t, rec).Code)

	body, ct = multipartFile(t, "file", "big.csv", "sku\n"+strings.Repeat("abcdefgh\n", 10))
	rec = env.do(t, http.MethodPost, "/api/imports", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "UPL003", decode[ErrorResponse](t, rec).Code)
	assert.Zero(t, env.queue.Len(), "rejected uploads queue nothing")

	rec = env.do(t, http.MethodGet, "/api/imports/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/imports/00000000-0000-0000-0000-000000000001", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB001", decode[ErrorResponse](t, rec).Code)
}

func TestProducts_API(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rec := env.doJSON(t, http.MethodPost, "/api/products", map[string]any{"sku": "Mug-1", "name": "Mug", "price": 4.5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	id := int(created["id"].(float64))
	assert.Equal(t, "mug-1", created["sku_normalized"])
	assert.Equal(t, 4.5, created["price"])

	rec = env.doJSON(t, http.MethodPost, "/api/products", map[string]any{"sku": "MUG-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PRD002", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/products", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/products/" + itoa(id)
	rec = env.doJSON(t, http.MethodPut, path, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["active"])

	rec = env.do(t, http.MethodGet, "/api/products?active=false&page=1&page_size=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 5, page["page_size"])

	for _, q := range []string{"page=0", "page_size=101", "page=x", "active=maybe"} {
		rec = env.do(t, http.MethodGet, "/api/products?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = env.do(t, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"deleted": true}, decode[map[string]bool](t, rec))

	rec = env.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PRD001", decode[ErrorResponse](t, rec).Code)

	env.doJSON(t, http.MethodPost, "/api/products", map[string]any{"sku": "a"})
	env.doJSON(t, http.MethodPost, "/api/products", map[string]any{"sku": "b"})
	rec = env.do(t, http.MethodDelete, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"deleted_count": 2}, decode[map[string]int](t, rec))
}

func TestWebhooks_API(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	hits := make(chan core.Notification, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n core.Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		hits <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(target.Close)

	rec := env.doJSON(t, http.MethodPost, "/api/webhooks", map[string]any{"url": "not a url", "event_type": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SUB002", decode[ErrorResponse](t, rec).Code)

	rec = env.doJSON(t, http.MethodPost, "/api/webhooks", map[string]any{"url": target.URL, "event_type": "catalog.ping"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[core.Subscription](t, rec)
	assert.True(t, sub.Enabled)
	path := "/api/webhooks/" + itoa(int(sub.ID))

	rec = env.do(t, http.MethodPost, path+"/test", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]string{"status": "queued"}, decode[map[string]string](t, rec))

	env.drain(t)
	select {
	case n := <-hits:
		assert.Equal(t, core.Notification{Test: true, EventType: "catalog.ping"}, n)
	default:
		t.Fatal("test delivery did not reach the target")
	}

	rec = env.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[core.Subscription](t, rec)
	require.NotNil(t, got.LastResponseCode)
	assert.Equal(t, http.StatusNoContent, *got.LastResponseCode)

	rec = env.doJSON(t, http.MethodPut, path, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[core.Subscription](t, rec).Enabled)

	rec = env.do(t, http.MethodGet, "/api/webhooks", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Subscription](t, rec), 1)

	rec = env.do(t, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, path+"/test", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SUB001", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/webhooks/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	env.srv.checks["queue"] = func(context.Context) error { return errors.New("redis down") }
	rec = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "redis down", body["dependencies"].(map[string]any)["queue"])

	rec = env.do(t, http.MethodGet, "/api/imports/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["max_concurrent"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrDuplicateSKU, http.StatusBadRequest},
		{core.ErrNoFile, http.StatusBadRequest},
		{badRequest("x"), http.StatusBadRequest},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{core.ErrTooManyUploads, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
