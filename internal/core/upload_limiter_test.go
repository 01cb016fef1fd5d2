package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func mustAcquire(t *testing.T, l *UploadLimiter) *SpoolSlot {
	t.Helper()
	slot, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return slot
}

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	limiter := NewUploadLimiter(2, time.Second)
	var first, second *SpoolSlot

	steps := []struct {
		name          string
		op            func()
		wantActive    int
		wantAvailable int
	}{
		{"initial", func() {}, 0, 2},
		{"first acquire", func() { first = mustAcquire(t, limiter) }, 1, 1},
		{"second acquire", func() { second = mustAcquire(t, limiter) }, 2, 0},
		{"first release", func() { first.Release() }, 1, 1},
		{"double release is a no-op", func() { first.Release() }, 1, 1},
		{"second release", func() { second.Release() }, 0, 2},
	}

	for _, s := range steps {
		s.op()
		st := limiter.Status()
		if st.Active != s.wantActive || st.Available != s.wantAvailable {
			t.Errorf("%s: Status() = %+v, want active=%d available=%d",
				s.name, st, s.wantActive, s.wantAvailable)
		}
	}
}

func TestUploadLimiter_CountsSpooledBytes(t *testing.T) {
	limiter := NewUploadLimiter(2, time.Second)
	slot := mustAcquire(t, limiter)

	r := slot.Reader(strings.NewReader("sku,name\nA,x\n"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if st := limiter.Status(); st.InFlightBytes != 4 || st.SpooledBytes != 0 {
		t.Errorf("mid-spool Status() = %+v, want in_flight=4 spooled=0", st)
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatalf("copy: %v", err)
	}
	slot.Release()

	st := limiter.Status()
	if st.InFlightBytes != 0 || st.SpooledBytes != 13 {
		t.Errorf("after release Status() = %+v, want in_flight=0 spooled=13", st)
	}
}

func TestUploadLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewUploadLimiter(1, 100*time.Millisecond)
	defer mustAcquire(t, limiter).Release()

	start := time.Now()
	_, err := limiter.Acquire(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("Acquire() error = %v, want ErrTooManyUploads", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, before maxWait", elapsed)
	}
	if st := limiter.Status(); st.Rejected != 1 || st.Waiting != 0 {
		t.Errorf("Status() = %+v, want rejected=1 waiting=0", st)
	}
}

func TestUploadLimiter_ReportsWaiting(t *testing.T) {
	limiter := NewUploadLimiter(1, 5*time.Second)
	held := mustAcquire(t, limiter)

	got := make(chan *SpoolSlot, 1)
	go func() {
		slot, err := limiter.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
		}
		got <- slot
	}()

	deadline := time.Now().Add(time.Second)
	for limiter.Status().Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Status().Waiting never reached 1: %+v", limiter.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}

	held.Release()
	select {
	case slot := <-got:
		slot.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter was not admitted after release")
	}
	if st := limiter.Status(); st.Waiting != 0 || st.Active != 0 {
		t.Errorf("Status() = %+v, want idle", st)
	}
}

func TestUploadLimiter_ContextCancellation(t *testing.T) {
	limiter := NewUploadLimiter(1, 5*time.Second)
	defer mustAcquire(t, limiter).Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}
	if st := limiter.Status(); st.Rejected != 0 {
		t.Errorf("cancelled wait counted as rejection: %+v", st)
	}
}

func TestUploadLimiter_NeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewUploadLimiter(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := limiter.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer slot.Release()

			mu.Lock()
			if n := limiter.ActiveCount(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d active, max %d", maxObserved, maxConcurrent)
	}
	if n := limiter.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount() = %d after all released", n)
	}
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	limiter := NewUploadLimiter(2, time.Second)
	slot := mustAcquire(t, limiter)

	done := make(chan error, 1)
	go func() { done <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain() returned with an upload active")
	case <-time.After(50 * time.Millisecond):
	}

	slot.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain() did not return after release")
	}
}

func TestUploadLimiter_WaitForDrain_Idle(t *testing.T) {
	limiter := NewUploadLimiter(1, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain() on idle limiter error = %v", err)
	}
}

func TestUploadLimiter_Defaults(t *testing.T) {
	limiter := NewUploadLimiter(0, 0)
	if got := limiter.Status().MaxConcurrent; got != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentUploads)
	}
}
