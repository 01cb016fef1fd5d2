// Package queue implements the work queue that carries run_ingestion,
// dispatch_event and deliver_webhook units from the API to the worker.
//
// Two brokers share one contract: RedisQueue for multi-process deployments
// and MemoryQueue for single-process runs and tests. Delivery is at least
// once, unordered, and there is no result channel back to the producer.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoTask is returned by Claim when nothing arrived within the poll timeout.
var ErrNoTask = errors.New("no task available")

// Task is the envelope stored in the broker.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Message is a claimed task. It must be acknowledged once handled.
type Message struct {
	Task Task
	raw  string
}

// Broker moves tasks between producers and the worker.
type Broker interface {
	Enqueue(ctx context.Context, name string, args any) error
	Claim(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, m *Message) error
}

// newTask encodes args into a fresh envelope.
func newTask(name string, args any) (Task, string, error) {
	if name == "" {
		return Task{}, "", errors.New("task name is required")
	}
	b, err := json.Marshal(args)
	if err != nil {
		return Task{}, "", fmt.Errorf("encode %s args: %w", name, err)
	}

	t := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       b,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return Task{}, "", fmt.Errorf("encode %s task: %w", name, err)
	}
	return t, string(raw), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.Name == "" {
		return Task{}, errors.New("decode task: missing name")
	}
	return t, nil
}
