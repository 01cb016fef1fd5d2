package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/catalog-importer/internal/config"
	"github.com/JonMunkholm/catalog-importer/internal/core"
	"github.com/JonMunkholm/catalog-importer/internal/store/memory"
)

// fakeFiles is an in-memory FileStore. openHook, when set, may replace the
// reader handed out by the n-th Open (1-based) of a ref.
type fakeFiles struct {
	mu       sync.Mutex
	data     map[string][]byte
	opens    map[string]int
	removed  []string
	saveErr  error
	openHook func(ref string, n int, data []byte) io.Reader
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{data: map[string][]byte{}, opens: map[string]int{}}
}

func (f *fakeFiles) put(ref, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[ref] = []byte(content)
}

func (f *fakeFiles) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := fmt.Sprintf("%d-%s", len(f.data)+len(f.removed), filename)
	f.data[ref] = b
	return ref, nil
}

func (f *fakeFiles) Open(ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[ref]
	if !ok {
		return nil, fs.ErrNotExist
	}
	f.opens[ref]++
	var r io.Reader = bytes.NewReader(b)
	if f.openHook != nil {
		if hooked := f.openHook(ref, f.opens[ref], b); hooked != nil {
			r = hooked
		}
	}
	return io.NopCloser(r), nil
}

func (f *fakeFiles) Remove(ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[ref]; !ok {
		return fs.ErrNotExist
	}
	delete(f.data, ref)
	f.removed = append(f.removed, ref)
	return nil
}

func (f *fakeFiles) exists(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[ref]
	return ok
}

// failingReader yields the first n bytes of data, then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

type queuedTask struct {
	Name string
	Args json.RawMessage
}

// recordingQueue keeps enqueued tasks for the test to run by hand.
type recordingQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
	fail  map[string]error
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{fail: map[string]error{}}
}

func (q *recordingQueue) Enqueue(_ context.Context, name string, args any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fail[name]; err != nil {
		return err
	}
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	q.tasks = append(q.tasks, queuedTask{Name: name, Args: b})
	return nil
}

func (q *recordingQueue) named(name string) []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedTask
	for _, t := range q.tasks {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// drain runs queued tasks through the service handlers until none remain.
func (q *recordingQueue) drain(t *testing.T, svc *core.Service) {
	t.Helper()
	handlers := svc.TaskHandlers()
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		h, ok := handlers[task.Name]
		if !ok {
			t.Fatalf("no handler for task %q", task.Name)
		}
		if err := h(context.Background(), task.Args); err != nil {
			t.Fatalf("task %s failed: %v", task.Name, err)
		}
	}
}

func testConfig(batchSize int) *config.Config {
	return &config.Config{
		Import: config.ImportConfig{
			BatchSize:     batchSize,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
		Webhook: config.WebhookConfig{
			Timeout:   time.Second,
			UserAgent: "catalog-importer-test",
		},
	}
}

type fixture struct {
	store *memory.Store
	files *fakeFiles
	queue *recordingQueue
	svc   *core.Service
}

func newFixture(batchSize int) *fixture {
	f := &fixture{
		store: memory.New(),
		files: newFakeFiles(),
		queue: newRecordingQueue(),
	}
	f.svc = core.NewService(f.store, f.files, f.queue, testConfig(batchSize))
	return f
}

// importFile creates a pending job for content and runs ingestion directly.
func (f *fixture) importFile(t *testing.T, content string) *core.ImportJob {
	t.Helper()
	ctx := context.Background()

	job, err := f.store.CreateJob(ctx, "products.csv")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	ref := "ref-" + job.ID.String()
	f.files.put(ref, content)

	if err := f.svc.RunIngestion(ctx, job.ID, ref); err != nil {
		t.Fatalf("RunIngestion() error = %v", err)
	}
	if f.files.exists(ref) {
		t.Errorf("upload %s not removed after ingestion", ref)
	}

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	return got
}

func (f *fixture) product(t *testing.T, sku string) *core.Product {
	t.Helper()
	p, err := f.store.GetProductBySKU(context.Background(), sku)
	if errors.Is(err, core.ErrNotFound) {
		t.Fatalf("product %q not found", sku)
	}
	if err != nil {
		t.Fatalf("GetProductBySKU() error = %v", err)
	}
	return p
}
