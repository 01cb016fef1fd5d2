package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalog-importer/internal/logging"
)

// HandlerFunc runs one unit from its raw JSON arguments.
type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// Worker consumes tasks from a broker with a fixed number of consumers.
// Handler errors are logged and the task is acknowledged; there is no retry.
type Worker struct {
	broker      Broker
	concurrency int
	backoff     time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewWorker creates a worker with concurrency consumers (at least one).
func NewWorker(broker Broker, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		broker:      broker,
		concurrency: concurrency,
		backoff:     500 * time.Millisecond,
		handlers:    make(map[string]HandlerFunc),
	}
}

// Handle registers h for tasks named name, replacing any earlier handler.
func (w *Worker) Handle(name string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) handler(name string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run consumes until ctx is cancelled. A unit that has started runs to
// completion even after cancellation. Run returns nil on a clean stop.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "consumers", w.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		consumer := i
		g.Go(func() error {
			return w.consume(gctx, consumer)
		})
	}

	err := g.Wait()
	slog.Info("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context, consumer int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		m, err := w.broker.Claim(ctx)
		switch {
		case errors.Is(err, ErrNoTask):
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			slog.Error("claim failed", "consumer", consumer, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}

		w.process(ctx, m)
	}
}

// process runs one task and acknowledges it whatever the outcome.
func (w *Worker) process(ctx context.Context, m *Message) {
	ctx, log := logging.WithFields(context.WithoutCancel(ctx), "task", m.Task.Name, "task_id", m.Task.ID)

	h, ok := w.handler(m.Task.Name)
	if !ok {
		log.Warn("dropping task with no handler")
	} else {
		start := time.Now()
		if err := runSafely(ctx, h, m.Task.Args); err != nil {
			log.Error("task failed", "error", err, "duration", time.Since(start))
		} else {
			log.Debug("task done", "duration", time.Since(start))
		}
	}

	if err := w.broker.Ack(ctx, m); err != nil {
		log.Error("ack failed", "error", err)
	}
}

func runSafely(ctx context.Context, h HandlerFunc, args json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, args)
}
