package training

import (
	"context"
	"errors"
)

var (
	// ErrStaleStep is returned for a gradient computed against a step that
	// has already been applied
	ErrStaleStep = errors.New("stale gradient step")

	// ErrEmptyValidationSet is returned when validation has no real records
	ErrEmptyValidationSet = errors.New("validation set is empty")
)

// Parameters maps parameter names to their flattened values
type Parameters map[string][]float64

// Clone returns a deep copy of the parameters
func (p Parameters) Clone() Parameters {
	clone := make(Parameters, len(p))
	for name, values := range p {
		clone[name] = append([]float64(nil), values...)
	}
	return clone
}

// Gradients maps parameter names to the gradient of the loss
type Gradients map[string][]float64

// Clone returns a deep copy of the gradients
func (g Gradients) Clone() Gradients {
	clone := make(Gradients, len(g))
	for name, values := range g {
		clone[name] = append([]float64(nil), values...)
	}
	return clone
}

// Update describes an applied optimizer step
type Update struct {
	Step         uint64  `json:"step"`
	LearningRate float64 `json:"learning_rate"`
}

// Coordinator synchronizes gradient updates between replicas
type Coordinator interface {
	// IsChief reports whether this replica is responsible for the final checkpoint
	IsChief() bool

	// CurrentStep returns the global step that is currently open
	CurrentStep(ctx context.Context) (uint64, error)

	// SubmitGradient contributes gradients computed at step. It blocks until
	// the step has been applied and returns ErrStaleStep if it already was.
	SubmitGradient(ctx context.Context, step uint64, grads Gradients) (Update, error)
}

// ParameterSource gives access to the current model parameters
type ParameterSource interface {
	Parameters(ctx context.Context) (Parameters, error)
}

// ReaderLock serializes access to the shared batch producer
type ReaderLock interface {
	AcquireReader(ctx context.Context) error
	ReleaseReader(ctx context.Context) error
}

// SharedState is the mutable coordination state visible to every replica
type SharedState interface {
	ReaderLock

	Position(ctx context.Context) (uint64, error)
	SetPosition(ctx context.Context, position uint64) error

	// ClaimValidation records step as validated if a validation is due and
	// reports whether the caller won the claim
	ClaimValidation(ctx context.Context, step uint64, frequency int) (bool, error)
	ValidationLoss(ctx context.Context) (float64, error)
	SetValidationLoss(ctx context.Context, loss float64) error

	// HalveLearningRate halves the adaptation factor and returns the new value
	HalveLearningRate(ctx context.Context) (float64, error)
	SetSparsityFactor(ctx context.Context, factor float64) error

	Snapshot(ctx context.Context) (State, error)
}

// Replica is everything a trainer needs from the rest of the cluster
type Replica interface {
	Coordinator
	ParameterSource
	SharedState
}

// Logits holds the model outputs for each head. A head the model does not
// have is absent.
type Logits struct {
	Text           Optional[Field]
	Reconstruction Optional[Field]
}

// Model is the trainable network. Implementations must be safe for use by
// one trainer at a time.
type Model interface {
	Compute(params Parameters, inputs Field, targets Targets, isTraining bool) (Logits, error)
	Loss(targets Targets, logits Logits) (float64, error)
	Gradients(params Parameters, inputs Field, targets Targets, logits Logits) (Gradients, error)
}

// Decoder turns a corpus into label hypotheses and scores them. Lower scores
// are better.
type Decoder interface {
	Decode(ctx context.Context, corpus Corpus, params Parameters) (map[string][]int, error)
	Score(hypotheses, references map[string][]int) (float64, error)
}
