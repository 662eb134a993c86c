package cluster

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/optimizer"
	"github.com/tsawler/go-nabu/training"
)

// ParameterServer holds the model parameters and the coordination state and
// applies the aggregated gradients of every replica
type ParameterServer struct {
	mu         sync.RWMutex
	params     training.Parameters
	optimizer  optimizer.Optimizer
	controller *training.LearningRateController
	store      *Store
	aggregator *Aggregator
	logger     *log.Logger
}

// NewParameterServer creates a parameter server owning params. A nil logger
// discards apply logging.
func NewParameterServer(params training.Parameters, opt optimizer.Optimizer, controller *training.LearningRateController,
	store *Store, aggregationTarget int, logger *log.Logger) *ParameterServer {
	ps := &ParameterServer{
		params:     params.Clone(),
		optimizer:  opt,
		controller: controller,
		store:      store,
		logger:     logger,
	}
	ps.aggregator = NewAggregator(aggregationTarget, store, ps.apply)
	return ps
}

// Store returns the coordination state
func (ps *ParameterServer) Store() *Store {
	return ps.store
}

// Parameters returns a copy of the current parameters
func (ps *ParameterServer) Parameters() training.Parameters {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.params.Clone()
}

// OptimizerState exports the optimizer state for checkpointing
func (ps *ParameterServer) OptimizerState() (*checkpoints.OptimizerState, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.optimizer.GetState()
}

// Restore loads parameters and optimizer state from a checkpoint
func (ps *ParameterServer) Restore(checkpoint *checkpoints.Checkpoint) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := checkpoints.LoadWeights(checkpoint.Weights, ps.params); err != nil {
		return fmt.Errorf("failed to restore parameters: %v", err)
	}
	if checkpoint.OptimizerState != nil {
		if err := ps.optimizer.LoadState(checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer: %v", err)
		}
	}
	return nil
}

// Submit forwards a gradient contribution to the aggregator
func (ps *ParameterServer) Submit(ctx context.Context, replica string, step uint64, grads training.Gradients) (training.Update, error) {
	return ps.aggregator.Submit(ctx, replica, step, grads)
}

// apply runs one optimizer step with the current learning rate and closes
// the step
func (ps *ParameterServer) apply(step uint64, grads training.Gradients) (training.Update, error) {
	adapt, sparsity := ps.store.Factors()
	lr := ps.controller.Rate(step, adapt, sparsity)

	ps.mu.Lock()
	err := ps.optimizer.Step(ps.params, grads, lr)
	ps.mu.Unlock()
	if err != nil {
		return training.Update{}, fmt.Errorf("failed to apply step %d: %v", step, err)
	}

	next, err := ps.store.Advance()
	if err != nil {
		return training.Update{}, err
	}

	if ps.logger != nil {
		ps.logger.Printf("applied step %d with learning rate %g", step, lr)
	}
	return training.Update{Step: next, LearningRate: lr}, nil
}

// Replica returns the in-process handle of a worker replica
func (ps *ParameterServer) Replica(id string, chief bool) *Replica {
	return &Replica{server: ps, id: id, chief: chief}
}
