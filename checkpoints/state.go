package checkpoints

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// SaveState writes the coordination state on its own, without weights.
// The parameter server calls it after every durable mutation.
func SaveState(path string, state TrainingState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode training state: %v", err)
	}
	return writeFileAtomic(path, data)
}

// LoadState reads a state file written by SaveState. The boolean result is
// false when no state has been saved yet.
func LoadState(path string) (TrainingState, bool, error) {
	var state TrainingState

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("failed to read training state: %v", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, fmt.Errorf("failed to decode training state: %v", err)
	}
	return state, true, nil
}
