package core

// upload_limiter.go bounds how many uploads are spooled to disk at once.
//
// SubmitImport takes a SpoolSlot while it copies the request body into the
// file store and reads the body through the slot, so Status can report how
// many bytes are in flight. When all slots are taken, new submissions queue
// for up to maxWait before failing with ErrTooManyUploads. WaitForDrain lets
// shutdown wait for spools in flight.

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManyUploads is returned when all upload slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentUploads is the default limit for parallel uploads.
const DefaultMaxConcurrentUploads = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// UploadLimiter is a counting semaphore over upload spooling.
type UploadLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu       sync.Mutex
	active   map[*SpoolSlot]struct{}
	waiting  int
	rejected int64
	spooled  int64 // bytes of finished spools
	drained  chan struct{}
}

// NewUploadLimiter creates a limiter that allows at most maxConcurrent
// simultaneous spools.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	drained := make(chan struct{})
	close(drained)
	return &UploadLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[*SpoolSlot]struct{}),
		drained: drained,
	}
}

// SpoolSlot is one held upload slot. Read the upload through Reader and call
// Release when the spool is done; Release is safe to call more than once.
type SpoolSlot struct {
	limiter *UploadLimiter
	bytes   atomic.Int64
	once    sync.Once
}

// Reader wraps r so the bytes read count toward this spool.
func (s *SpoolSlot) Reader(r io.Reader) io.Reader {
	return &countingReader{r: r, n: &s.bytes}
}

// Bytes returns how much has been read through the slot so far.
func (s *SpoolSlot) Bytes() int64 {
	return s.bytes.Load()
}

// Release frees the slot.
func (s *SpoolSlot) Release() {
	s.once.Do(func() { s.limiter.release(s) })
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Acquire waits for a slot. It returns ErrTooManyUploads once maxWait passes,
// or ctx.Err() if ctx ends first.
func (l *UploadLimiter) Acquire(ctx context.Context) (*SpoolSlot, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	select {
	case l.slots <- struct{}{}:
		slot := &SpoolSlot{limiter: l}
		l.mu.Lock()
		l.waiting--
		if len(l.active) == 0 {
			l.drained = make(chan struct{})
		}
		l.active[slot] = struct{}{}
		l.mu.Unlock()
		return slot, nil

	case <-waitCtx.Done():
		l.mu.Lock()
		l.waiting--
		if ctx.Err() == nil {
			l.rejected++
		}
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyUploads
	}
}

func (l *UploadLimiter) release(s *SpoolSlot) {
	l.mu.Lock()
	delete(l.active, s)
	l.spooled += s.Bytes()
	if len(l.active) == 0 {
		close(l.drained)
	}
	l.mu.Unlock()

	<-l.slots
}

// ActiveCount returns the number of uploads currently spooling.
func (l *UploadLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// WaitForDrain blocks until no upload is spooling or ctx ends.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadLimiterStatus is a snapshot of the limiter.
type UploadLimiterStatus struct {
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	Available     int   `json:"available"`
	MaxConcurrent int   `json:"max_concurrent"`
	InFlightBytes int64 `json:"in_flight_bytes"`
	SpooledBytes  int64 `json:"spooled_bytes"`
	Rejected      int64 `json:"rejected"`
}

// Status returns the current limiter state for the health endpoint.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	var inFlight int64
	for s := range l.active {
		inFlight += s.Bytes()
	}
	return UploadLimiterStatus{
		Active:        len(l.active),
		Waiting:       l.waiting,
		Available:     cap(l.slots) - len(l.active),
		MaxConcurrent: cap(l.slots),
		InFlightBytes: inFlight,
		SpooledBytes:  l.spooled,
		Rejected:      l.rejected,
	}
}
