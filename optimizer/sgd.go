package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// GradientDescent is plain gradient descent: param -= lr * grad
type GradientDescent struct {
	stepCount uint64
}

// NewGradientDescent creates a gradient descent optimizer
func NewGradientDescent() *GradientDescent {
	return &GradientDescent{}
}

// Step performs a single optimization step
func (gd *GradientDescent) Step(params map[string][]float64, grads map[string][]float64, lr float64) error {
	if lr < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", lr)
	}
	if err := validateGradients(params, grads); err != nil {
		return err
	}

	for name, grad := range grads {
		floats.AddScaled(params[name], -lr, grad)
	}

	gd.stepCount++
	return nil
}

// GetState extracts the optimizer state for checkpointing
func (gd *GradientDescent) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "GradientDescent",
		Parameters: map[string]interface{}{
			"step_count": float64(gd.stepCount),
		},
	}, nil
}

// LoadState restores the optimizer state from a checkpoint
func (gd *GradientDescent) LoadState(state *OptimizerState) error {
	if err := validateStateType("GradientDescent", state); err != nil {
		return err
	}
	gd.stepCount = extractUint64Param(state.Parameters, "step_count", 0)
	return nil
}

// GetStepCount returns the number of applied updates
func (gd *GradientDescent) GetStepCount() uint64 {
	return gd.stepCount
}

// Name returns the configuration name of the optimizer
func (gd *GradientDescent) Name() string {
	return GradientDescentName
}
