package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("queue buffer is full")

// MemoryQueue is an in-process broker backed by a buffered channel. Tasks
// are lost when the process exits.
type MemoryQueue struct {
	tasks       chan Task
	pollTimeout time.Duration
}

// NewMemoryQueue creates a queue holding up to buffer tasks.
func NewMemoryQueue(buffer int, pollTimeout time.Duration) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &MemoryQueue{tasks: make(chan Task, buffer), pollTimeout: pollTimeout}
}

// Enqueue adds a task without waiting. A full buffer fails with
// ErrQueueFull; consumers enqueue follow-up units too, so waiting for room
// could stall every one of them.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, args any) error {
	task, _, err := newTask(name, args)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", name, ErrQueueFull)
	}
}

// Claim waits up to the poll timeout for the next task.
func (q *MemoryQueue) Claim(ctx context.Context) (*Message, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return &Message{Task: task}, nil
	case <-timer.C:
		return nil, ErrNoTask
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op; a claimed task has already left the channel.
func (q *MemoryQueue) Ack(context.Context, *Message) error {
	return nil
}

// Len reports the number of buffered tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
