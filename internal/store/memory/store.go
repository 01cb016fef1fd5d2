// Package memory implements the core store ports in process memory.
//
// It backs the core and HTTP tests. Every method holds one mutex, so
// CommitBatch is atomic the way a database transaction is. Returned records
// are copies.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

// Store satisfies core.Store.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	jobs map[uuid.UUID]core.ImportJob

	products      map[int64]core.Product
	productByKey  map[string]int64
	nextProductID int64

	subs      map[int64]core.Subscription
	nextSubID int64

	commits int
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		now:          time.Now,
		jobs:         make(map[uuid.UUID]core.ImportJob),
		products:     make(map[int64]core.Product),
		productByKey: make(map[string]int64),
		subs:         make(map[int64]core.Subscription),
	}
}

// Commits returns how many CommitBatch calls succeeded.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// --- jobs ---

func (s *Store) CreateJob(_ context.Context, filename string) (*core.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := core.ImportJob{
		ID:        uuid.New(),
		Filename:  filename,
		Status:    core.JobPending,
		CreatedAt: s.now(),
	}
	s.jobs[job.ID] = job
	return &job, nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*core.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &job, nil
}

func (s *Store) UpdateJob(_ context.Context, job *core.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return core.ErrNotFound
	}
	cur.Status = job.Status
	cur.TotalRows = job.TotalRows
	cur.ProcessedRows = job.ProcessedRows
	cur.ErrorMessage = job.ErrorMessage
	cur.StartedAt = job.StartedAt
	cur.FinishedAt = job.FinishedAt
	s.jobs[job.ID] = cur
	return nil
}

// --- products ---

func (s *Store) GetProduct(_ context.Context, id int64) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.productByKey[core.NormalizeSKU(sku)]
	if !ok {
		return nil, core.ErrNotFound
	}
	p := s.products[id]
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, f core.ProductFilter) ([]core.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []core.Product
	for _, p := range s.products {
		if matchProduct(p, f) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := f.Offset()
	if start < 0 || start >= len(matched) {
		return []core.Product{}, total, nil
	}
	end := start + f.PageSize
	if end > len(matched) || f.PageSize <= 0 {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func matchProduct(p core.Product, f core.ProductFilter) bool {
	if f.SKU != "" && !containsFold(p.SKU, f.SKU) {
		return false
	}
	if f.Name != "" && (!p.Name.Valid || !containsFold(p.Name.String, f.Name)) {
		return false
	}
	if f.Description != "" && (!p.Description.Valid || !containsFold(p.Description.String, f.Description)) {
		return false
	}
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (s *Store) CreateProduct(_ context.Context, p *core.Product) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.NormalizeSKU(p.SKU)
	if _, taken := s.productByKey[key]; taken {
		return nil, core.ErrDuplicateSKU
	}

	s.nextProductID++
	rec := *p
	rec.ID = s.nextProductID
	rec.SKUNormalized = key
	rec.CreatedAt = s.now()
	rec.UpdatedAt = pgtype.Timestamptz{}
	s.products[rec.ID] = rec
	s.productByKey[key] = rec.ID
	return &rec, nil
}

func (s *Store) UpdateProduct(_ context.Context, p *core.Product) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.products[p.ID]
	if !ok {
		return nil, core.ErrNotFound
	}

	key := core.NormalizeSKU(p.SKU)
	if owner, taken := s.productByKey[key]; taken && owner != p.ID {
		return nil, core.ErrDuplicateSKU
	}

	delete(s.productByKey, cur.SKUNormalized)
	cur.SKU = p.SKU
	cur.SKUNormalized = key
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Price = p.Price
	cur.Active = p.Active
	cur.UpdatedAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	s.products[cur.ID] = cur
	s.productByKey[key] = cur.ID
	return &cur, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return core.ErrNotFound
	}
	delete(s.products, id)
	delete(s.productByKey, p.SKUNormalized)
	return nil
}

func (s *Store) DeleteAllProducts(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.products))
	s.products = make(map[int64]core.Product)
	s.productByKey = make(map[string]int64)
	return n, nil
}

func (s *Store) CountProducts(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.products)), nil
}

// CommitBatch applies every upsert and the job's processed_rows together.
// Existing products keep their active flag and timestamps.
func (s *Store) CommitBatch(_ context.Context, jobID uuid.UUID, rows []core.ProductUpsert, processedRows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return core.ErrNotFound
	}

	for _, u := range rows {
		key := u.Key()
		if id, ok := s.productByKey[key]; ok {
			p := s.products[id]
			p.SKU = u.SKU
			p.Name = u.Name
			p.Description = u.Description
			p.Price = u.Price
			s.products[id] = p
			continue
		}

		s.nextProductID++
		s.products[s.nextProductID] = core.Product{
			ID:            s.nextProductID,
			SKU:           u.SKU,
			SKUNormalized: key,
			Name:          u.Name,
			Description:   u.Description,
			Price:         u.Price,
			Active:        true,
			CreatedAt:     s.now(),
		}
		s.productByKey[key] = s.nextProductID
	}

	job.ProcessedRows = processedRows
	s.jobs[jobID] = job
	s.commits++
	return nil
}

// --- subscriptions ---

func (s *Store) ListSubscriptions(_ context.Context) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSubs(func(core.Subscription) bool { return true }), nil
}

func (s *Store) ListEnabledSubscriptions(_ context.Context, eventType string) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSubs(func(sub core.Subscription) bool {
		return sub.Enabled && sub.EventType == eventType
	}), nil
}

func (s *Store) sortedSubs(keep func(core.Subscription) bool) []core.Subscription {
	out := []core.Subscription{}
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Store) GetSubscription(_ context.Context, id int64) (*core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub *core.Subscription) (*core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	rec := *sub
	rec.ID = s.nextSubID
	rec.CreatedAt = s.now()
	rec.LastResponseCode = nil
	rec.LastResponseTimeMs = nil
	s.subs[rec.ID] = rec
	return &rec, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *core.Subscription) (*core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subs[sub.ID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cur.URL = sub.URL
	cur.EventType = sub.EventType
	cur.Enabled = sub.Enabled
	cur.UpdatedAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	s.subs[cur.ID] = cur
	return &cur, nil
}

func (s *Store) DeleteSubscription(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *Store) RecordDelivery(_ context.Context, id int64, code *int, elapsedMs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return core.ErrNotFound
	}
	if code != nil {
		c := *code
		code = &c
	}
	sub.LastResponseCode = code
	sub.LastResponseTimeMs = &elapsedMs
	s.subs[id] = sub
	return nil
}
