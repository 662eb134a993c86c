package training

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/optimizer"
)

// ValidationMode selects how a validation score is computed
type ValidationMode string

const (
	// ValidationModeLoss scores with the average model loss
	ValidationModeLoss ValidationMode = "loss"
	// ValidationModeDecode scores decoded hypotheses with the decoder
	ValidationModeDecode ValidationMode = "decode"
)

// TrainerConfig holds the training hyperparameters read from trainer.toml
type TrainerConfig struct {
	NumEpochs              int      `toml:"num_epochs" validate:"min=1"`
	BatchSize              int      `toml:"batch_size" validate:"min=1"`
	AggregationTarget      int      `toml:"numbatches_to_aggregate" validate:"min=0"`
	InitialLearningRate    float64  `toml:"initial_learning_rate" validate:"gt=0"`
	LearningRateDecay      float64  `toml:"learning_rate_decay" validate:"gt=0,lte=1"`
	ValidFrequency         int      `toml:"valid_frequency" validate:"min=0"`
	ValidAdapt             *bool    `toml:"valid_adapt" validate:"required"`
	LearningRateAdaptation bool     `toml:"learning_rate_adaptation"`
	ValidationMode         string   `toml:"validation_mode" validate:"required,oneof=loss decode"`
	Optimizer              string   `toml:"optimizer" validate:"omitempty,oneof=gradient_descent adam"`
	Beta1                  *float64 `toml:"beta1" validate:"omitempty,gte=0,lt=1"`
	Beta2                  *float64 `toml:"beta2" validate:"omitempty,gte=0,lt=1"`
	ValidUtterances        int      `toml:"valid_utt" validate:"min=0"`

	MaxInputLength          int `toml:"max_input_length" validate:"min=0"`
	MaxTextLength           int `toml:"max_target_length" validate:"min=0"`
	MaxReconstructionLength int `toml:"max_reconstruction_length" validate:"min=0"`

	CheckpointFormat string `toml:"checkpoint_format" validate:"omitempty,oneof=proto protobuf json"`
}

// DefaultTrainerConfig returns a configuration with reasonable defaults.
// ValidAdapt is left unset because it has no sensible default.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		NumEpochs:           1,
		BatchSize:           32,
		InitialLearningRate: 0.001,
		LearningRateDecay:   1,
		ValidationMode:      string(ValidationModeLoss),
		Optimizer:           optimizer.AdamName,
	}
}

// LoadTrainerConfig reads and validates a TOML trainer configuration. Keys
// not in the file keep the values from DefaultTrainerConfig; unknown keys
// are rejected.
func LoadTrainerConfig(path string) (TrainerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrainerConfig{}, fmt.Errorf("failed to read trainer config: %v", err)
	}
	return ParseTrainerConfig(string(data))
}

// ParseTrainerConfig decodes and validates a TOML trainer configuration
func ParseTrainerConfig(data string) (TrainerConfig, error) {
	config := DefaultTrainerConfig()

	decoder := toml.NewDecoder(strings.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return TrainerConfig{}, fmt.Errorf("failed to parse trainer config: %v", err)
	}

	if err := config.Validate(); err != nil {
		return TrainerConfig{}, err
	}
	return config, nil
}

// Validate checks every field of the configuration
func (c TrainerConfig) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid trainer config: %w", err)
	}
	return nil
}

// Mode returns the validation mode
func (c TrainerConfig) Mode() ValidationMode {
	return ValidationMode(c.ValidationMode)
}

// Adapt reports whether a validation regression halves the learning rate
func (c TrainerConfig) Adapt() bool {
	return c.ValidAdapt != nil && *c.ValidAdapt
}

// OptimizerConfig returns the optimizer selection
func (c TrainerConfig) OptimizerConfig() optimizer.Config {
	return optimizer.Config{
		Name:  c.Optimizer,
		Beta1: c.Beta1,
		Beta2: c.Beta2,
	}
}

// BatchConfig returns the batch shape
func (c TrainerConfig) BatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:               c.BatchSize,
		MaxInputLength:          c.MaxInputLength,
		MaxTextLength:           c.MaxTextLength,
		MaxReconstructionLength: c.MaxReconstructionLength,
	}
}

// Format returns the checkpoint format
func (c TrainerConfig) Format() (checkpoints.CheckpointFormat, error) {
	return checkpoints.ParseFormat(c.CheckpointFormat)
}

// TotalSteps returns the number of global steps for a corpus of numBatches batches
func (c TrainerConfig) TotalSteps(numBatches int) uint64 {
	return TotalSteps(numBatches, c.NumEpochs, c.AggregationTarget)
}

// NewController builds the learning rate controller for a run of totalSteps
func (c TrainerConfig) NewController(totalSteps uint64) *LearningRateController {
	return NewLearningRateController(c.InitialLearningRate, c.LearningRateDecay, totalSteps, c.LearningRateAdaptation)
}
