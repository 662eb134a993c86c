package optimizer

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-nabu/checkpoints"
)

// ErrUnknownOptimizer is returned by NewOptimizer for unsupported names
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Names accepted in the trainer configuration
const (
	GradientDescentName = "gradient_descent"
	AdamName            = "adam"
)

// Optimizer defines the common interface for all optimizers.
// Parameters and gradients are named flat vectors; the optimizer updates the
// parameter vectors in place.
type Optimizer interface {
	// Step applies one update with the given learning rate.
	// Every gradient must name an existing parameter of equal length.
	Step(params map[string][]float64, grads map[string][]float64, lr float64) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the number of applied updates
	GetStepCount() uint64

	// Name returns the optimizer name for logging
	Name() string
}

// OptimizerState is the serializable optimizer state, shared with the
// checkpoints package
type OptimizerState = checkpoints.OptimizerState

// Config selects and parameterises an optimizer. Beta1 and Beta2 only apply
// to Adam and fall back to the defaults unless both are set.
type Config struct {
	Name  string
	Beta1 *float64
	Beta2 *float64
}

// NewOptimizer creates the optimizer named in config. An empty name selects Adam.
func NewOptimizer(config Config) (Optimizer, error) {
	switch config.Name {
	case GradientDescentName:
		return NewGradientDescent(), nil
	case AdamName, "":
		adamConfig := DefaultAdamConfig()
		if config.Beta1 != nil && config.Beta2 != nil {
			adamConfig.Beta1 = *config.Beta1
			adamConfig.Beta2 = *config.Beta2
		}
		return NewAdam(adamConfig)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOptimizer, config.Name)
	}
}

// validateGradients ensures every gradient has a parameter of matching length
func validateGradients(params, grads map[string][]float64) error {
	for name, grad := range grads {
		param, ok := params[name]
		if !ok {
			return fmt.Errorf("gradient for unknown parameter %s", name)
		}
		if len(param) != len(grad) {
			return fmt.Errorf("gradient size mismatch for %s: parameter %d, gradient %d",
				name, len(param), len(grad))
		}
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
