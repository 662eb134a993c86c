package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestReaderLockMutualExclusion(t *testing.T) {
	lock := NewReaderLock()

	var holders, maxHolders, entries int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				if err := lock.Acquire(ctx); err != nil {
					return err
				}
				n := atomic.AddInt32(&holders, 1)
				for {
					m := atomic.LoadInt32(&maxHolders)
					if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
						break
					}
				}
				atomic.AddInt32(&entries, 1)
				atomic.AddInt32(&holders, -1)
				lock.Release()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if maxHolders != 1 {
		t.Errorf("Expected at most one holder, saw %d", maxHolders)
	}
	if entries != 400 {
		t.Errorf("Expected 400 critical sections, got %d", entries)
	}
	if lock.Held() {
		t.Error("Lock still held after every holder released")
	}
}

func TestReaderLockBlocksUntilReleased(t *testing.T) {
	lock := NewReaderLock()
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	if !lock.Held() {
		t.Error("Expected lock to be held")
	}

	acquired := make(chan struct{})
	go func() {
		lock.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Second acquire succeeded while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	lock.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Waiting acquire did not proceed after release")
	}
}

func TestReaderLockContext(t *testing.T) {
	lock := NewReaderLock()
	lock.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lock.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestReaderLockReleaseWhenFree(t *testing.T) {
	lock := NewReaderLock()
	lock.Release()
	lock.Release()

	// A double release must not let two holders in
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lock.Acquire(ctx); err == nil {
		t.Error("Second acquire succeeded after a double release")
	}
}

func TestStoreClaimValidationOnce(t *testing.T) {
	store, _, err := NewStore("", 10)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimValidation(0, 10)
			if err != nil {
				t.Errorf("Claim failed: %v", err)
			}
			if claimed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one replica to claim step 0, got %d", wins)
	}
	if store.Snapshot().ValidatedStep != 0 {
		t.Errorf("Expected validated step 0, got %d", store.Snapshot().ValidatedStep)
	}
}
