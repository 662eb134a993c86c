package cluster

import (
	"context"
)

// ReaderLock is the single token guarding the shared batch producer. A
// holder that dies without releasing leaves the lock taken.
type ReaderLock struct {
	token chan struct{}
}

// NewReaderLock creates a free lock
func NewReaderLock() *ReaderLock {
	token := make(chan struct{}, 1)
	token <- struct{}{}
	return &ReaderLock{token: token}
}

// Acquire blocks until the lock is free and takes it
func (l *ReaderLock) Acquire(ctx context.Context) error {
	select {
	case <-l.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock. Releasing a free lock does nothing.
func (l *ReaderLock) Release() {
	select {
	case l.token <- struct{}{}:
	default:
	}
}

// Held reports whether the lock is taken
func (l *ReaderLock) Held() bool {
	return len(l.token) == 0
}
