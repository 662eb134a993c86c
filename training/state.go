package training

import (
	"math"

	"github.com/tsawler/go-nabu/checkpoints"
)

// State is the coordination state shared by every replica of a run. It lives
// with the parameter server; replicas only ever see snapshots of it.
type State struct {
	GlobalStep         uint64  `json:"global_step"`
	ValidatedStep      int64   `json:"validated_step"`
	ValidationLoss     float64 `json:"validation_loss"`
	LearningRateFactor float64 `json:"learning_rate_factor"`
	SparsityFactor     float64 `json:"sparsity_factor"`
	Reading            bool    `json:"reading"`
	Position           uint64  `json:"position"`
}

// NewState returns the state of a fresh run. ValidatedStep starts one
// validation period in the past so the first check at step 0 is due.
func NewState(validFrequency int) State {
	return State{
		ValidatedStep:      -int64(validFrequency),
		ValidationLoss:     math.Inf(1),
		LearningRateFactor: 1,
		SparsityFactor:     1,
	}
}

// Durable converts the state into its persisted form. Reading is volatile and
// is not persisted.
func (s State) Durable() checkpoints.TrainingState {
	return checkpoints.TrainingState{
		GlobalStep:         s.GlobalStep,
		ValidatedStep:      s.ValidatedStep,
		ValidationLoss:     checkpoints.EncodeLoss(s.ValidationLoss),
		LearningRateFactor: s.LearningRateFactor,
		SparsityFactor:     s.SparsityFactor,
		Position:           s.Position,
	}
}

// StateFromDurable restores a state saved with Durable
func StateFromDurable(saved checkpoints.TrainingState) State {
	return State{
		GlobalStep:         saved.GlobalStep,
		ValidatedStep:      saved.ValidatedStep,
		ValidationLoss:     checkpoints.DecodeLoss(saved.ValidationLoss),
		LearningRateFactor: saved.LearningRateFactor,
		SparsityFactor:     saved.SparsityFactor,
		Position:           saved.Position,
	}
}

// ValidationDue reports whether a validation should run at step
func ValidationDue(step uint64, validatedStep int64, frequency int) bool {
	if frequency <= 0 {
		return false
	}
	return int64(step)-validatedStep >= int64(frequency)
}
