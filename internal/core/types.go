package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ImportJob is the durable record of one file ingestion.
type ImportJob struct {
	ID            uuid.UUID  `json:"id"`
	Filename      string     `json:"filename"`
	Status        JobStatus  `json:"status"`
	TotalRows     *int       `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	ErrorMessage  *string    `json:"error_message"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// Percent returns ingestion progress as a percentage (0-100).
// Returns 0 while total_rows is unknown or zero.
func (j *ImportJob) Percent() int {
	if j.TotalRows == nil || *j.TotalRows <= 0 {
		if j.Status == JobCompleted {
			return 100
		}
		return 0
	}
	p := j.ProcessedRows * 100 / *j.TotalRows
	if p > 100 {
		p = 100
	}
	return p
}

// Product is a stored product record. SKUNormalized is the uniqueness key.
type Product struct {
	ID            int64              `json:"id"`
	SKU           string             `json:"sku"`
	SKUNormalized string             `json:"sku_normalized"`
	Name          pgtype.Text        `json:"name"`
	Description   pgtype.Text        `json:"description"`
	Price         pgtype.Numeric     `json:"price"`
	Active        bool               `json:"active"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

// ProductUpsert is one ingested row ready to be written by normalized key.
type ProductUpsert struct {
	SKU         string
	Name        pgtype.Text
	Description pgtype.Text
	Price       pgtype.Numeric
}

// Key returns the normalized SKU the upsert is keyed on.
func (u ProductUpsert) Key() string {
	return NormalizeSKU(u.SKU)
}

// ProductInput is the payload for creating a product directly.
type ProductInput struct {
	SKU         string   `json:"sku"`
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

// ProductPatch updates only the non-nil fields of a product.
type ProductPatch struct {
	SKU         *string  `json:"sku"`
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Active      *bool    `json:"active"`
}

// ProductFilter selects a page of products. Text filters are
// case-insensitive substring matches.
type ProductFilter struct {
	Page        int
	PageSize    int
	SKU         string
	Name        string
	Description string
	Active      *bool
}

// Offset returns the row offset of the requested page.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Items    []Product `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int64     `json:"total"`
}

// Subscription is a webhook target for one event type.
type Subscription struct {
	ID                 int64              `json:"id"`
	URL                string             `json:"url"`
	EventType          string             `json:"event_type"`
	Enabled            bool               `json:"enabled"`
	LastResponseCode   *int               `json:"last_response_code"`
	LastResponseTimeMs *float64           `json:"last_response_time_ms"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          pgtype.Timestamptz `json:"updated_at"`
}

// SubscriptionInput is the payload for creating a subscription.
type SubscriptionInput struct {
	URL       string `json:"url"`
	EventType string `json:"event_type"`
	Enabled   *bool  `json:"enabled"`
}

// SubscriptionPatch updates only the non-nil fields of a subscription.
type SubscriptionPatch struct {
	URL       *string `json:"url"`
	EventType *string `json:"event_type"`
	Enabled   *bool   `json:"enabled"`
}

// JobStore owns import-job records. UpdateJob is an immediate durable write
// of every mutable field.
type JobStore interface {
	CreateJob(ctx context.Context, filename string) (*ImportJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	UpdateJob(ctx context.Context, job *ImportJob) error
}

// ProductStore owns product records. CreateProduct and UpdateProduct return
// ErrDuplicateSKU when the normalized key belongs to another record.
type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, int64, error)
	CreateProduct(ctx context.Context, p *Product) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) (*Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	DeleteAllProducts(ctx context.Context) (int64, error)
	CountProducts(ctx context.Context) (int64, error)
}

// BatchCommitter persists a batch of upserts together with the job's
// processed_rows counter in a single commit.
type BatchCommitter interface {
	CommitBatch(ctx context.Context, jobID uuid.UUID, rows []ProductUpsert, processedRows int) error
}

// SubscriptionStore owns webhook subscriptions.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	ListEnabledSubscriptions(ctx context.Context, eventType string) ([]Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	RecordDelivery(ctx context.Context, id int64, code *int, elapsedMs float64) error
}

// Store is the full persistence surface the service needs.
type Store interface {
	JobStore
	ProductStore
	BatchCommitter
	SubscriptionStore
}

// Enqueuer hands a named unit of work to the work queue. Delivery is
// at-least-once and nothing is reported back.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) error
}

// FileStore holds uploaded files between submission and ingestion.
type FileStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (ref string, err error)
	Open(ref string) (io.ReadCloser, error)
	Remove(ref string) error
}
