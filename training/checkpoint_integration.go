package training

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tsawler/go-nabu/checkpoints"
)

// CheckpointWriter persists a checkpoint to a path
type CheckpointWriter interface {
	SaveCheckpoint(checkpoint *checkpoints.Checkpoint, path string) error
}

// OptimizerStateSource is implemented by replicas that can export the
// optimizer state alongside the parameters
type OptimizerStateSource interface {
	OptimizerState(ctx context.Context) (*checkpoints.OptimizerState, error)
}

// ModelCheckpointPath returns where the final model of a run is written
func ModelCheckpointPath(expdir string) string {
	return filepath.Join(expdir, "model", "network.ckpt")
}

// CheckpointAuthority writes the final model of a run. Only the chief
// writes, and it writes at most once per process.
type CheckpointAuthority struct {
	writer CheckpointWriter
	path   string
	once   sync.Once
}

// NewCheckpointAuthority creates an authority writing to path
func NewCheckpointAuthority(writer CheckpointWriter, path string) *CheckpointAuthority {
	return &CheckpointAuthority{
		writer: writer,
		path:   path,
	}
}

// Path returns the checkpoint destination
func (a *CheckpointAuthority) Path() string {
	return a.path
}

// Finalize saves the parameters and coordination state of replica. It
// returns false without writing when replica is not the chief or when the
// checkpoint was already written by an earlier call.
func (a *CheckpointAuthority) Finalize(ctx context.Context, replica Replica, totalSteps uint64) (bool, error) {
	if !replica.IsChief() {
		return false, nil
	}

	saved := false
	var err error
	a.once.Do(func() {
		var checkpoint *checkpoints.Checkpoint
		checkpoint, err = a.build(ctx, replica, totalSteps)
		if err != nil {
			return
		}
		if err = a.writer.SaveCheckpoint(checkpoint, a.path); err != nil {
			err = fmt.Errorf("failed to save final checkpoint: %v", err)
			return
		}
		saved = true
	})
	return saved, err
}

func (a *CheckpointAuthority) build(ctx context.Context, replica Replica, totalSteps uint64) (*checkpoints.Checkpoint, error) {
	params, err := replica.Parameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parameters: %v", err)
	}
	state, err := replica.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training state: %v", err)
	}

	trainingState := state.Durable()
	trainingState.TotalSteps = totalSteps

	checkpoint := &checkpoints.Checkpoint{
		Weights:       checkpoints.ExtractWeights(params),
		TrainingState: trainingState,
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("Final model after %d steps", state.GlobalStep),
		},
	}

	if source, ok := replica.(OptimizerStateSource); ok {
		optimizerState, err := source.OptimizerState(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch optimizer state: %v", err)
		}
		checkpoint.OptimizerState = optimizerState
	}

	return checkpoint, nil
}
