package cluster

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/training"
)

// StatePath returns where the parameter server keeps the coordination state
func StatePath(expdir string) string {
	return filepath.Join(expdir, "logdir", "state.json")
}

// Store owns the coordination state of a run. Every durable mutation is
// written to disk before it returns, so a restarted parameter server resumes
// from the last recorded step. The reader lock is never persisted.
type Store struct {
	mu     sync.Mutex
	state  training.State
	reader *ReaderLock
	path   string
}

// NewStore creates a store persisted at path, restoring any state saved
// there. An empty path keeps the state in memory only.
func NewStore(path string, validFrequency int) (*Store, bool, error) {
	store := &Store{
		state:  training.NewState(validFrequency),
		reader: NewReaderLock(),
		path:   path,
	}
	if path == "" {
		return store, false, nil
	}

	saved, found, err := checkpoints.LoadState(path)
	if err != nil {
		return nil, false, err
	}
	if found {
		store.state = training.StateFromDurable(saved)
	}
	return store, found, nil
}

// persist must be called with mu held
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if err := checkpoints.SaveState(s.path, s.state.Durable()); err != nil {
		return fmt.Errorf("failed to persist training state: %v", err)
	}
	return nil
}

// AcquireReader blocks until the reader lock is free and takes it
func (s *Store) AcquireReader(ctx context.Context) error {
	return s.reader.Acquire(ctx)
}

// ReleaseReader frees the reader lock
func (s *Store) ReleaseReader() {
	s.reader.Release()
}

// GlobalStep returns the open step
func (s *Store) GlobalStep() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GlobalStep
}

// Advance closes the open step and returns the new one
func (s *Store) Advance() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GlobalStep++
	return s.state.GlobalStep, s.persist()
}

// Position returns the corpus position of the next batch
func (s *Store) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Position
}

// SetPosition records the corpus position of the next batch
func (s *Store) SetPosition(position uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Position = position
	return s.persist()
}

// ClaimValidation marks step as validated if a validation is due. Checking
// and marking happen under one lock so only one replica wins a step.
func (s *Store) ClaimValidation(step uint64, frequency int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !training.ValidationDue(step, s.state.ValidatedStep, frequency) {
		return false, nil
	}
	s.state.ValidatedStep = int64(step)
	return true, s.persist()
}

// ValidationLoss returns the most recent validation score
func (s *Store) ValidationLoss() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ValidationLoss
}

// SetValidationLoss records a validation score
func (s *Store) SetValidationLoss(loss float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ValidationLoss = loss
	return s.persist()
}

// HalveLearningRate halves the adaptation factor and returns the new value
func (s *Store) HalveLearningRate() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LearningRateFactor /= 2
	return s.state.LearningRateFactor, s.persist()
}

// SetSparsityFactor records the share of non-empty targets in the last batch
func (s *Store) SetSparsityFactor(factor float64) error {
	if factor < 0 || factor > 1 {
		return fmt.Errorf("sparsity factor %f out of range [0, 1]", factor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SparsityFactor = factor
	return s.persist()
}

// Factors returns the learning rate adaptation and sparsity factors
func (s *Store) Factors() (adapt, sparsity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LearningRateFactor, s.state.SparsityFactor
}

// Snapshot returns a copy of the state
func (s *Store) Snapshot() training.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	state.Reading = s.reader.Held()
	return state
}
