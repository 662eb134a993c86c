package training

import (
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are stateless; adaptation factors are applied on top by the
// LearningRateController.
type LRScheduler interface {
	// GetLR returns the scheduled learning rate at the given global step
	GetLR(step uint64, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// ExponentialDecayScheduler decays the learning rate continuously so that it
// has been multiplied by DecayRate once DecaySteps steps have passed
type ExponentialDecayScheduler struct {
	DecayRate  float64
	DecaySteps uint64
}

// NewExponentialDecayScheduler creates an exponential decay scheduler
func NewExponentialDecayScheduler(decayRate float64, decaySteps uint64) *ExponentialDecayScheduler {
	if decayRate <= 0 {
		decayRate = 1 // Default: no decay
	}
	if decaySteps == 0 {
		decaySteps = 1
	}
	return &ExponentialDecayScheduler{
		DecayRate:  decayRate,
		DecaySteps: decaySteps,
	}
}

func (s *ExponentialDecayScheduler) GetLR(step uint64, baseLR float64) float64 {
	return baseLR * math.Pow(s.DecayRate, float64(step)/float64(s.DecaySteps))
}

func (s *ExponentialDecayScheduler) GetName() string {
	return "ExponentialDecay"
}

// ConstantScheduler maintains a constant learning rate
type ConstantScheduler struct{}

func (s *ConstantScheduler) GetLR(step uint64, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantScheduler) GetName() string {
	return "ConstantLR"
}

// TotalSteps returns the number of global steps in a run. With gradient
// aggregation every step consumes aggregationTarget batches.
func TotalSteps(numBatches, numEpochs, aggregationTarget int) uint64 {
	perStep := max(1, aggregationTarget)
	batches := numBatches * numEpochs
	return uint64((batches + perStep - 1) / perStep)
}

// LearningRateController computes the effective learning rate of a step:
// the decayed base rate scaled by the validation adaptation factor and, when
// enabled, by the sparsity factor of the current batch.
type LearningRateController struct {
	baseRate           float64
	scheduler          LRScheduler
	sparsityAdaptation bool
}

// NewLearningRateController creates a controller that decays baseRate by
// decayRate over totalSteps steps
func NewLearningRateController(baseRate, decayRate float64, totalSteps uint64, sparsityAdaptation bool) *LearningRateController {
	var scheduler LRScheduler = &ConstantScheduler{}
	if decayRate > 0 && decayRate != 1 {
		scheduler = NewExponentialDecayScheduler(decayRate, totalSteps)
	}
	return &LearningRateController{
		baseRate:           baseRate,
		scheduler:          scheduler,
		sparsityAdaptation: sparsityAdaptation,
	}
}

// Scheduler returns the decay schedule in use
func (c *LearningRateController) Scheduler() LRScheduler {
	return c.scheduler
}

// SparsityEnabled reports whether batch sparsity scales the learning rate
func (c *LearningRateController) SparsityEnabled() bool {
	return c.sparsityAdaptation
}

// Rate returns the learning rate for step given the current adaptation and
// sparsity factors
func (c *LearningRateController) Rate(step uint64, adaptFactor, sparsityFactor float64) float64 {
	if !c.sparsityAdaptation {
		sparsityFactor = 1
	}
	return c.scheduler.GetLR(step, c.baseRate) * adaptFactor * sparsityFactor
}

// SparsityFactor returns the share of records in a batch that have a
// non-empty text target. It is always 1 when sparsity adaptation is off.
func (c *LearningRateController) SparsityFactor(textLengths []int) float64 {
	if !c.sparsityAdaptation {
		return 1
	}
	if len(textLengths) == 0 {
		return 0
	}

	nonEmpty := 0
	for _, length := range textLengths {
		if length > 0 {
			nonEmpty++
		}
	}
	return float64(nonEmpty) / float64(len(textLengths))
}
