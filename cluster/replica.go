package cluster

import (
	"context"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/training"
)

// Replica is a worker's in-process view of a parameter server
type Replica struct {
	server *ParameterServer
	id     string
	chief  bool
}

func (r *Replica) ID() string {
	return r.id
}

func (r *Replica) IsChief() bool {
	return r.chief
}

func (r *Replica) CurrentStep(ctx context.Context) (uint64, error) {
	return r.server.store.GlobalStep(), nil
}

func (r *Replica) SubmitGradient(ctx context.Context, step uint64, grads training.Gradients) (training.Update, error) {
	return r.server.Submit(ctx, r.id, step, grads)
}

func (r *Replica) Parameters(ctx context.Context) (training.Parameters, error) {
	return r.server.Parameters(), nil
}

func (r *Replica) OptimizerState(ctx context.Context) (*checkpoints.OptimizerState, error) {
	return r.server.OptimizerState()
}

func (r *Replica) AcquireReader(ctx context.Context) error {
	return r.server.store.AcquireReader(ctx)
}

func (r *Replica) ReleaseReader(ctx context.Context) error {
	r.server.store.ReleaseReader()
	return nil
}

func (r *Replica) Position(ctx context.Context) (uint64, error) {
	return r.server.store.Position(), nil
}

func (r *Replica) SetPosition(ctx context.Context, position uint64) error {
	return r.server.store.SetPosition(position)
}

func (r *Replica) ClaimValidation(ctx context.Context, step uint64, frequency int) (bool, error) {
	return r.server.store.ClaimValidation(step, frequency)
}

func (r *Replica) ValidationLoss(ctx context.Context) (float64, error) {
	return r.server.store.ValidationLoss(), nil
}

func (r *Replica) SetValidationLoss(ctx context.Context, loss float64) error {
	return r.server.store.SetValidationLoss(loss)
}

func (r *Replica) HalveLearningRate(ctx context.Context) (float64, error) {
	return r.server.store.HalveLearningRate()
}

func (r *Replica) SetSparsityFactor(ctx context.Context, factor float64) error {
	return r.server.store.SetSparsityFactor(factor)
}

func (r *Replica) Snapshot(ctx context.Context) (training.State, error) {
	return r.server.store.Snapshot(), nil
}

var (
	_ training.Replica              = (*Replica)(nil)
	_ training.OptimizerStateSource = (*Replica)(nil)
)
