package checkpoints

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration value onto a CheckpointFormat
func ParseFormat(name string) (CheckpointFormat, error) {
	switch name {
	case "", "proto", "protobuf":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format: %s", name)
	}
}

// Checkpoint is the persisted snapshot of the trainable parameters together
// with the coordination state of the run that produced them
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a single named trainable parameter
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState captures the durable coordination state of a run.
// ValidationLoss is stored as math.MaxFloat64 while no validation has been
// recorded, since JSON has no representation for +Inf.
type TrainingState struct {
	GlobalStep         uint64  `json:"global_step"`
	ValidatedStep      int64   `json:"validated_step"`
	ValidationLoss     float64 `json:"validation_loss"`
	LearningRateFactor float64 `json:"learning_rate_factor"`
	SparsityFactor     float64 `json:"sparsity_factor"`
	Position           uint64  `json:"position"`
	TotalSteps         uint64  `json:"total_steps,omitempty"`
}

// OptimizerState captures optimizer-specific state (moments, step count, ...)
type OptimizerState struct {
	Type       string                 `json:"type"` // "GradientDescent", "Adam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents one optimizer state vector
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// EncodeLoss converts an in-memory validation loss to its persisted form
func EncodeLoss(loss float64) float64 {
	if math.IsInf(loss, 1) {
		return math.MaxFloat64
	}
	return loss
}

// DecodeLoss is the inverse of EncodeLoss
func DecodeLoss(loss float64) float64 {
	if loss >= math.MaxFloat64 {
		return math.Inf(1)
	}
	return loss
}

// CheckpointSaver handles saving checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the format the saver writes
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a complete checkpoint. The file is written next to
// path and renamed into place so a crash never leaves a torn checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-nabu"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var data []byte
	var err error
	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
	case FormatProto:
		data, err = marshalProto(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return writeFileAtomic(path, data)
}

// LoadCheckpoint loads a checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}

	switch cs.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
		}
		return &checkpoint, nil
	case FormatProto:
		checkpoint, err := unmarshalProto(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
		}
		return checkpoint, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// ExtractWeights converts a parameter map into weight tensors ordered by name
func ExtractWeights(params map[string][]float64) []WeightTensor {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		data := make([]float64, len(params[name]))
		copy(data, params[name])
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: []int{len(data)},
			Data:  data,
		})
	}
	return weights
}

// LoadWeights copies weight data back into an existing parameter map
func LoadWeights(weights []WeightTensor, params map[string][]float64) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(params))
	}

	for _, weight := range weights {
		dst, ok := params[weight.Name]
		if !ok {
			return fmt.Errorf("unknown weight %s", weight.Name)
		}
		if len(dst) != len(weight.Data) {
			return fmt.Errorf("size mismatch for weight %s: parameter %d vs weight %d",
				weight.Name, len(dst), len(weight.Data))
		}
		copy(dst, weight.Data)
	}

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %v", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move checkpoint into place: %v", err)
	}
	return nil
}
