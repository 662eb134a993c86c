package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Collaborators are the components a Trainer drives
type Collaborators struct {
	Model      Model
	Source     *BatchSource
	Replica    Replica
	Validation *ValidationCycle     // nil disables validation
	Authority  *CheckpointAuthority // nil disables the final checkpoint
	Output     io.Writer
}

// TrainingSummary describes a finished run of one replica
type TrainingSummary struct {
	StepsApplied int
	StaleSteps   int
	LastLoss     float64
	FinalStep    uint64
	Validations  []ValidationResult
	Stopped      bool
	Checkpointed bool
}

// Trainer runs the training loop of a single replica
type Trainer struct {
	config     TrainerConfig
	model      Model
	source     *BatchSource
	replica    Replica
	validation *ValidationCycle
	authority  *CheckpointAuthority
	controller *LearningRateController
	reporter   *StepReporter
	totalSteps uint64
	stopped    atomic.Bool
}

// NewTrainer creates a new Trainer
func NewTrainer(config TrainerConfig, deps Collaborators) (*Trainer, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("trainer requires a model")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("trainer requires a batch source")
	}
	if deps.Replica == nil {
		return nil, fmt.Errorf("trainer requires a replica")
	}

	totalSteps := config.TotalSteps(deps.Source.NumBatches())
	return &Trainer{
		config:     config,
		model:      deps.Model,
		source:     deps.Source,
		replica:    deps.Replica,
		validation: deps.Validation,
		authority:  deps.Authority,
		controller: config.NewController(totalSteps),
		reporter:   NewStepReporter(deps.Output, totalSteps),
		totalSteps: totalSteps,
	}, nil
}

// TotalSteps returns the number of global steps in the run
func (t *Trainer) TotalSteps() uint64 {
	return t.totalSteps
}

// Stop asks the loop to finish after the current iteration
func (t *Trainer) Stop() {
	t.stopped.Store(true)
}

func (t *Trainer) shouldStop(ctx context.Context) bool {
	return t.stopped.Load() || ctx.Err() != nil
}

// Train runs until the global step reaches the total, the trainer is
// stopped, or ctx is cancelled. The chief writes the final checkpoint in
// every case except a failure.
func (t *Trainer) Train(ctx context.Context) (TrainingSummary, error) {
	var summary TrainingSummary

	for {
		if t.shouldStop(ctx) {
			summary.Stopped = true
			break
		}

		step, err := t.replica.CurrentStep(ctx)
		if err != nil {
			if t.shouldStop(ctx) {
				summary.Stopped = true
				break
			}
			return summary, fmt.Errorf("failed to read global step: %v", err)
		}
		summary.FinalStep = step
		if step >= t.totalSteps {
			break
		}

		if t.validation != nil {
			result, ran, err := t.validation.Run(ctx, step, t.replica)
			if err != nil {
				return summary, fmt.Errorf("validation at step %d failed: %w", step, err)
			}
			if ran {
				summary.Validations = append(summary.Validations, result)
				t.reporter.Validation(result)
			}
		}

		start := time.Now()
		update, loss, err := t.trainStep(ctx, step)
		if errors.Is(err, ErrStaleStep) {
			summary.StaleSteps++
			t.reporter.Stale(step)
			continue
		}
		if err != nil {
			if t.shouldStop(ctx) {
				summary.Stopped = true
				break
			}
			return summary, fmt.Errorf("training step %d failed: %w", step, err)
		}

		summary.StepsApplied++
		summary.LastLoss = loss
		summary.FinalStep = update.Step
		t.reporter.Step(update.Step, loss, update.LearningRate, time.Since(start))
	}

	if t.authority != nil {
		saved, err := t.authority.Finalize(context.WithoutCancel(ctx), t.replica, t.totalSteps)
		if err != nil {
			return summary, err
		}
		if saved {
			summary.Checkpointed = true
			t.reporter.Saved(t.authority.Path())
		}
	}

	return summary, nil
}

// trainStep fetches a batch, computes its gradients and submits them
func (t *Trainer) trainStep(ctx context.Context, step uint64) (Update, float64, error) {
	batch, err := t.fetch(ctx)
	if err != nil {
		return Update{}, 0, err
	}

	params, err := t.replica.Parameters(ctx)
	if err != nil {
		return Update{}, 0, fmt.Errorf("failed to fetch parameters: %v", err)
	}

	if t.controller.SparsityEnabled() {
		sparsity := t.controller.SparsityFactor(batch.Targets.Text.Lengths)
		if err := t.replica.SetSparsityFactor(ctx, sparsity); err != nil {
			return Update{}, 0, fmt.Errorf("failed to set sparsity factor: %v", err)
		}
	}

	logits, err := t.model.Compute(params, batch.Inputs, batch.Targets, true)
	if err != nil {
		return Update{}, 0, fmt.Errorf("failed to compute logits: %v", err)
	}
	loss, err := t.model.Loss(batch.Targets, logits)
	if err != nil {
		return Update{}, 0, fmt.Errorf("failed to compute loss: %v", err)
	}
	grads, err := t.model.Gradients(params, batch.Inputs, batch.Targets, logits)
	if err != nil {
		return Update{}, 0, fmt.Errorf("failed to compute gradients: %v", err)
	}

	update, err := t.replica.SubmitGradient(ctx, step, grads)
	if err != nil {
		if errors.Is(err, ErrStaleStep) {
			return Update{}, loss, err
		}
		return Update{}, loss, fmt.Errorf("failed to submit gradients: %w", err)
	}
	return update, loss, nil
}

// fetch reads the next batch from the shared position while holding the
// reader lock. The lock is released on every path.
func (t *Trainer) fetch(ctx context.Context) (batch *Batch, err error) {
	if err := t.replica.AcquireReader(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire reader: %w", err)
	}
	defer func() {
		if releaseErr := t.replica.ReleaseReader(context.WithoutCancel(ctx)); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release reader: %v", releaseErr)
		}
	}()

	position, err := t.replica.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %v", err)
	}

	batch, next, err := t.source.Next(position)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %v", err)
	}

	if err := t.replica.SetPosition(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store position: %v", err)
	}
	return batch, nil
}
