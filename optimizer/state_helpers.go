package optimizer

import (
	"sort"

	"github.com/tsawler/go-nabu/checkpoints"
)

// Common helper functions for optimizer state management

// extractVectorState copies one state vector per parameter, ordered by name
func extractVectorState(vectors map[string][]float64, prefix string, stateType string) []checkpoints.OptimizerTensor {
	names := make([]string, 0, len(vectors))
	for name := range vectors {
		names = append(names, name)
	}
	sort.Strings(names)

	tensors := make([]checkpoints.OptimizerTensor, 0, len(names))
	for _, name := range names {
		data := make([]float64, len(vectors[name]))
		copy(data, vectors[name])
		tensors = append(tensors, checkpoints.OptimizerTensor{
			Name:      prefix + name,
			Shape:     []int{len(data)},
			Data:      data,
			StateType: stateType,
		})
	}
	return tensors
}

// restoreVectorState rebuilds the per-parameter vectors of one state type
func restoreVectorState(tensors []checkpoints.OptimizerTensor, prefix string, stateType string) map[string][]float64 {
	vectors := make(map[string][]float64)
	for _, t := range tensors {
		if t.StateType != stateType || len(t.Name) < len(prefix) || t.Name[:len(prefix)] != prefix {
			continue
		}
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		vectors[t.Name[len(prefix):]] = data
	}
	return vectors
}

// extractFloat64Param safely extracts a float64 parameter from the state map
func extractFloat64Param(params map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := params[key].(float64); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	if val, ok := params[key].(float64); ok {
		return uint64(val)
	}
	return defaultValue
}
