package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// AdamConfig holds configuration for the Adam optimizer. The learning rate
// is supplied on every step by the caller.
type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Adam keeps first and second moment estimates per parameter
type Adam struct {
	config AdamConfig

	momentum map[string][]float64 // first moment
	variance map[string][]float64 // second moment

	// Step tracking for bias correction
	stepCount uint64
}

// NewAdam creates a new Adam optimizer
func NewAdam(config AdamConfig) (*Adam, error) {
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		config.Epsilon = 1e-8
	}

	return &Adam{
		config:   config,
		momentum: make(map[string][]float64),
		variance: make(map[string][]float64),
	}, nil
}

// Step performs a single optimization step
func (a *Adam) Step(params map[string][]float64, grads map[string][]float64, lr float64) error {
	if lr < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", lr)
	}
	if err := validateGradients(params, grads); err != nil {
		return err
	}

	a.stepCount++
	t := float64(a.stepCount)
	correction1 := 1 - math.Pow(a.config.Beta1, t)
	correction2 := 1 - math.Pow(a.config.Beta2, t)

	for name, grad := range grads {
		m, ok := a.momentum[name]
		if !ok {
			m = make([]float64, len(grad))
			a.momentum[name] = m
		}
		v, ok := a.variance[name]
		if !ok {
			v = make([]float64, len(grad))
			a.variance[name] = v
		}

		// m = beta1*m + (1-beta1)*g
		floats.Scale(a.config.Beta1, m)
		floats.AddScaled(m, 1-a.config.Beta1, grad)

		param := params[name]
		for i, g := range grad {
			v[i] = a.config.Beta2*v[i] + (1-a.config.Beta2)*g*g
			mHat := m[i] / correction1
			vHat := v[i] / correction2
			param[i] -= lr * mHat / (math.Sqrt(vHat) + a.config.Epsilon)
		}
	}

	return nil
}

// GetState extracts the optimizer state for checkpointing
func (a *Adam) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"beta1":      a.config.Beta1,
			"beta2":      a.config.Beta2,
			"epsilon":    a.config.Epsilon,
			"step_count": float64(a.stepCount),
		},
	}
	state.StateData = append(state.StateData, extractVectorState(a.momentum, "m_", "m")...)
	state.StateData = append(state.StateData, extractVectorState(a.variance, "v_", "v")...)
	return state, nil
}

// LoadState restores the optimizer state from a checkpoint
func (a *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	a.config.Beta1 = extractFloat64Param(state.Parameters, "beta1", a.config.Beta1)
	a.config.Beta2 = extractFloat64Param(state.Parameters, "beta2", a.config.Beta2)
	a.config.Epsilon = extractFloat64Param(state.Parameters, "epsilon", a.config.Epsilon)
	a.stepCount = extractUint64Param(state.Parameters, "step_count", 0)
	a.momentum = restoreVectorState(state.StateData, "m_", "m")
	a.variance = restoreVectorState(state.StateData, "v_", "v")
	return nil
}

// GetStepCount returns the number of applied updates
func (a *Adam) GetStepCount() uint64 {
	return a.stepCount
}

// Name returns the configuration name of the optimizer
func (a *Adam) Name() string {
	return AdamName
}

// Config returns the Adam hyperparameters
func (a *Adam) Config() AdamConfig {
	return a.config
}
