package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog-importer/internal/config"
	"github.com/JonMunkholm/catalog-importer/internal/logging"
)

// Listing bounds for ListProducts.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service is the entry point for the HTTP layer and the worker.
type Service struct {
	store      Store
	files      FileStore
	queue      Enqueuer
	limiter    *UploadLimiter
	pipeline   *Pipeline
	dispatcher *Dispatcher
	machine    *jobMachine
}

// NewService wires the pipeline and dispatcher over the given ports.
func NewService(store Store, files FileStore, queue Enqueuer, cfg *config.Config) *Service {
	return &Service{
		store:      store,
		files:      files,
		queue:      queue,
		limiter:    NewUploadLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		pipeline:   NewPipeline(store, store, files, queue, cfg.Import.BatchSize),
		dispatcher: NewDispatcher(store, queue, cfg.Webhook.Timeout, cfg.Webhook.UserAgent),
		machine:    &jobMachine{jobs: store, now: time.Now},
	}
}

// Limiter exposes the upload limiter for health reporting and shutdown.
func (s *Service) Limiter() *UploadLimiter {
	return s.limiter
}

// SubmitImport spools r to the file store, creates a pending job and queues
// its ingestion. If the unit cannot be queued the spooled file is removed
// and the job is marked failed.
func (s *Service) SubmitImport(ctx context.Context, filename string, r io.Reader) (*ImportJob, error) {
	if r == nil {
		return nil, ErrNoFile
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = "upload.csv"
	}

	slot, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer slot.Release()

	ref, err := s.files.Save(ctx, filename, slot.Reader(r))
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job, err := s.store.CreateJob(ctx, filename)
	if err != nil {
		s.removeUpload(ctx, ref)
		return nil, fmt.Errorf("create import job: %w", err)
	}

	ctx, log := logging.WithFields(ctx, "job_id", job.ID)

	err = s.queue.Enqueue(ctx, TaskRunIngestion, RunIngestionArgs{JobID: job.ID, FileRef: ref})
	if err != nil {
		s.removeUpload(ctx, ref)
		err = fmt.Errorf("enqueue ingestion: %w", err)
		if ferr := s.machine.Fail(ctx, job, err); ferr != nil {
			log.Error("failed to mark unqueued job failed", "error", ferr)
		}
		return nil, err
	}

	log.Info("import submitted", "filename", filename, "file_ref", ref)
	return job, nil
}

func (s *Service) removeUpload(ctx context.Context, ref string) {
	if err := s.files.Remove(ref); err != nil {
		logging.FromContext(ctx).Warn("failed to remove upload", "file_ref", ref, "error", err)
	}
}

// GetJob returns the job's latest committed state.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("import job", id)
	}
	return job, err
}

// RunIngestion executes the run_ingestion unit.
func (s *Service) RunIngestion(ctx context.Context, jobID uuid.UUID, ref string) error {
	return s.pipeline.Run(ctx, jobID, ref)
}

// DispatchEvent executes the dispatch_event unit.
func (s *Service) DispatchEvent(ctx context.Context, eventType string) error {
	return s.dispatcher.DispatchEvent(ctx, eventType)
}

// DeliverWebhook executes the deliver_webhook unit.
func (s *Service) DeliverWebhook(ctx context.Context, subscriptionID int64) error {
	return s.dispatcher.Deliver(ctx, subscriptionID)
}

// TriggerSubscriptionTest queues a single delivery to an existing
// subscription, enabled or not.
func (s *Service) TriggerSubscriptionTest(ctx context.Context, id int64) error {
	if _, err := s.GetSubscription(ctx, id); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, TaskDeliverWebhook, DeliverWebhookArgs{SubscriptionID: id}); err != nil {
		return fmt.Errorf("enqueue webhook test: %w", err)
	}
	return nil
}

// ListProducts returns one page of products, newest first.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	if f.Page < 1 {
		return nil, invalid("page must be >= 1")
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return nil, invalid("page_size must be between 1 and %d", MaxPageSize)
	}

	items, total, err := s.store.ListProducts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if items == nil {
		items = []Product{}
	}
	return &ProductPage{Items: items, Page: f.Page, PageSize: f.PageSize, Total: total}, nil
}

// GetProduct returns a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("product", id)
	}
	return p, err
}

// CreateProduct stores a new product. A SKU whose normalized form is taken
// is rejected with ErrDuplicateSKU.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return nil, invalid("sku is required")
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	return s.store.CreateProduct(ctx, &Product{
		SKU:           sku,
		SKUNormalized: NormalizeSKU(sku),
		Name:          PtrToPgText(in.Name),
		Description:   PtrToPgText(in.Description),
		Price:         FloatToPgNumeric(in.Price),
		Active:        active,
	})
}

// UpdateProduct applies the non-nil fields of patch.
func (s *Service) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*Product, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.SKU != nil {
		sku := strings.TrimSpace(*patch.SKU)
		if sku == "" {
			return nil, invalid("sku is required")
		}
		p.SKU = sku
		p.SKUNormalized = NormalizeSKU(sku)
	}
	if patch.Name != nil {
		p.Name = PtrToPgText(patch.Name)
	}
	if patch.Description != nil {
		p.Description = PtrToPgText(patch.Description)
	}
	if patch.Price != nil {
		p.Price = FloatToPgNumeric(patch.Price)
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}

	updated, err := s.store.UpdateProduct(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("product", id)
	}
	return updated, err
}

// DeleteProduct removes one product.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	err := s.store.DeleteProduct(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return notFound("product", id)
	}
	return err
}

// DeleteAllProducts removes every product and returns how many were removed.
func (s *Service) DeleteAllProducts(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	logging.FromContext(ctx).Info("all products deleted", "deleted_count", n)
	return n, nil
}

// ListSubscriptions returns every subscription, newest first.
func (s *Service) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return subs, nil
}

// GetSubscription returns a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("subscription", id)
	}
	return sub, err
}

// CreateSubscription stores a new subscription, enabled unless stated.
func (s *Service) CreateSubscription(ctx context.Context, in SubscriptionInput) (*Subscription, error) {
	sub := &Subscription{
		URL:       strings.TrimSpace(in.URL),
		EventType: strings.TrimSpace(in.EventType),
		Enabled:   true,
	}
	if in.Enabled != nil {
		sub.Enabled = *in.Enabled
	}
	if err := validateSubscription(sub); err != nil {
		return nil, err
	}
	return s.store.CreateSubscription(ctx, sub)
}

// UpdateSubscription applies the non-nil fields of patch.
func (s *Service) UpdateSubscription(ctx context.Context, id int64, patch SubscriptionPatch) (*Subscription, error) {
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.URL != nil {
		sub.URL = strings.TrimSpace(*patch.URL)
	}
	if patch.EventType != nil {
		sub.EventType = strings.TrimSpace(*patch.EventType)
	}
	if patch.Enabled != nil {
		sub.Enabled = *patch.Enabled
	}
	if err := validateSubscription(sub); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateSubscription(ctx, sub)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("subscription", id)
	}
	return updated, err
}

// DeleteSubscription removes one subscription.
func (s *Service) DeleteSubscription(ctx context.Context, id int64) error {
	err := s.store.DeleteSubscription(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return notFound("subscription", id)
	}
	return err
}

func validateSubscription(sub *Subscription) error {
	u, err := url.Parse(sub.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("invalid subscription: url %q must be an absolute http(s) URL", sub.URL)
	}
	if sub.EventType == "" {
		return invalid("invalid subscription: event_type is required")
	}
	return nil
}
