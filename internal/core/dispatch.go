package core

// dispatch.go fans events out to webhook subscriptions. Fan-out only
// enqueues one deliver_webhook unit per matching subscription; each delivery
// then runs on its own and records its outcome on the subscription.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/catalog-importer/internal/logging"
)

// maxResponseDrain bounds how much of a webhook response body is read.
const maxResponseDrain = 64 << 10

// Notification is the body POSTed to a subscription.
type Notification struct {
	Test      bool   `json:"test"`
	EventType string `json:"event_type"`
}

// Delivery is the outcome of one POST. Code is nil when no HTTP response
// arrived.
type Delivery struct {
	Code      *int
	ElapsedMs float64
	Err       error
}

// Dispatcher delivers event notifications to subscriptions.
type Dispatcher struct {
	subs      SubscriptionStore
	queue     Enqueuer
	client    *http.Client
	userAgent string
}

// NewDispatcher builds a dispatcher whose HTTP calls time out after timeout.
func NewDispatcher(subs SubscriptionStore, queue Enqueuer, timeout time.Duration, userAgent string) *Dispatcher {
	return &Dispatcher{
		subs:      subs,
		queue:     queue,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// DispatchEvent enqueues a delivery for every enabled subscription whose
// event type equals eventType. An enqueue failure for one subscription is
// logged and does not stop the others.
func (d *Dispatcher) DispatchEvent(ctx context.Context, eventType string) error {
	ctx, log := logging.WithFields(ctx, "event_type", eventType)

	subs, err := d.subs.ListEnabledSubscriptions(ctx, eventType)
	if err != nil {
		return fmt.Errorf("list subscriptions for %q: %w", eventType, err)
	}

	queued := 0
	for _, sub := range subs {
		if err := d.queue.Enqueue(ctx, TaskDeliverWebhook, DeliverWebhookArgs{SubscriptionID: sub.ID}); err != nil {
			log.Error("enqueue webhook delivery failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		queued++
	}

	log.Info("event dispatched", "subscriptions", len(subs), "queued", queued)
	return nil
}

// Deliver POSTs a notification to one subscription and records the response
// code and latency. Transport failures are recorded, not returned. A
// subscription deleted after the delivery was queued is ignored.
func (d *Dispatcher) Deliver(ctx context.Context, id int64) error {
	ctx, log := logging.WithFields(ctx, "subscription_id", id)

	sub, err := d.subs.GetSubscription(ctx, id)
	if errors.Is(err, ErrNotFound) {
		log.Warn("subscription gone, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription %d: %w", id, err)
	}

	res := d.Post(ctx, sub)
	if res.Err != nil {
		log.Warn("webhook delivery failed",
			"url", sub.URL,
			"error", res.Err,
			"elapsed_ms", res.ElapsedMs,
		)
	} else {
		log.Info("webhook delivered",
			"url", sub.URL,
			"status", *res.Code,
			"elapsed_ms", res.ElapsedMs,
		)
	}

	if err := d.subs.RecordDelivery(ctx, sub.ID, res.Code, res.ElapsedMs); err != nil {
		return fmt.Errorf("record delivery for subscription %d: %w", sub.ID, err)
	}
	return nil
}

// Post sends the notification for sub. The elapsed time covers request,
// response and body drain, and is measured whatever the outcome.
func (d *Dispatcher) Post(ctx context.Context, sub *Subscription) Delivery {
	start := time.Now()
	elapsed := func() float64 {
		return float64(time.Since(start)) / float64(time.Millisecond)
	}

	body, err := json.Marshal(Notification{Test: true, EventType: sub.EventType})
	if err != nil {
		return Delivery{ElapsedMs: elapsed(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return Delivery{ElapsedMs: elapsed(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Delivery{ElapsedMs: elapsed(), Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))
	resp.Body.Close()

	code := resp.StatusCode
	return Delivery{Code: &code, ElapsedMs: elapsed()}
}
