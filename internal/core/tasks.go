package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Work unit names understood by the worker.
const (
	TaskRunIngestion   = "run_ingestion"
	TaskDispatchEvent  = "dispatch_event"
	TaskDeliverWebhook = "deliver_webhook"
)

// EventImportCompleted is raised once per job that reaches completed.
const EventImportCompleted = "product.import.completed"

// RunIngestionArgs are the arguments of run_ingestion.
type RunIngestionArgs struct {
	JobID   uuid.UUID `json:"job_id"`
	FileRef string    `json:"file_ref"`
}

// DispatchEventArgs are the arguments of dispatch_event.
type DispatchEventArgs struct {
	EventType string `json:"event_type"`
}

// DeliverWebhookArgs are the arguments of deliver_webhook.
type DeliverWebhookArgs struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// TaskHandler runs one work unit from its raw JSON arguments.
type TaskHandler func(ctx context.Context, args json.RawMessage) error

// TaskHandlers returns the handler for every work unit name.
func (s *Service) TaskHandlers() map[string]TaskHandler {
	return map[string]TaskHandler{
		TaskRunIngestion: func(ctx context.Context, raw json.RawMessage) error {
			var args RunIngestionArgs
			if err := decodeArgs(raw, &args); err != nil {
				return err
			}
			return s.RunIngestion(ctx, args.JobID, args.FileRef)
		},
		TaskDispatchEvent: func(ctx context.Context, raw json.RawMessage) error {
			var args DispatchEventArgs
			if err := decodeArgs(raw, &args); err != nil {
				return err
			}
			return s.DispatchEvent(ctx, args.EventType)
		},
		TaskDeliverWebhook: func(ctx context.Context, raw json.RawMessage) error {
			var args DeliverWebhookArgs
			if err := decodeArgs(raw, &args); err != nil {
				return err
			}
			return s.DeliverWebhook(ctx, args.SubscriptionID)
		},
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode task args: %w", err)
	}
	return nil
}
