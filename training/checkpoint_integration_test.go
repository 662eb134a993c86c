package training

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tsawler/go-nabu/checkpoints"
)

func TestModelCheckpointPath(t *testing.T) {
	expected := filepath.Join("exp", "model", "network.ckpt")
	if got := ModelCheckpointPath("exp"); got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestCheckpointAuthorityChiefOnly(t *testing.T) {
	writer := &countingWriter{}
	authority := NewCheckpointAuthority(writer, "network.ckpt")

	saved, err := authority.Finalize(context.Background(), newFakeReplica(false, 1), 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if saved || writer.count() != 0 {
		t.Error("Non-chief replica must not write a checkpoint")
	}

	chief := newFakeReplica(true, 1)
	chief.state.GlobalStep = 10
	chief.state.ValidationLoss = 1.5
	saved, err = authority.Finalize(context.Background(), chief, 10)
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}
	if !saved {
		t.Fatal("Expected the chief to write the checkpoint")
	}

	checkpoint := writer.saved[0]
	if writer.paths[0] != "network.ckpt" {
		t.Errorf("Expected path network.ckpt, got %s", writer.paths[0])
	}
	if checkpoint.TrainingState.GlobalStep != 10 || checkpoint.TrainingState.TotalSteps != 10 {
		t.Errorf("Unexpected training state: %+v", checkpoint.TrainingState)
	}
	if len(checkpoint.Weights) != 1 || checkpoint.Weights[0].Name != "w" {
		t.Errorf("Unexpected weights: %+v", checkpoint.Weights)
	}
}

func TestCheckpointAuthorityOnce(t *testing.T) {
	writer := &countingWriter{}
	authority := NewCheckpointAuthority(writer, "network.ckpt")
	chief := newFakeReplica(true, 1)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			saved, err := authority.Finalize(context.Background(), chief, 1)
			if err != nil {
				t.Errorf("Finalize failed: %v", err)
			}
			results[i] = saved
		}(i)
	}
	wg.Wait()

	if writer.count() != 1 {
		t.Errorf("Expected exactly one checkpoint write, got %d", writer.count())
	}
	savedCount := 0
	for _, saved := range results {
		if saved {
			savedCount++
		}
	}
	if savedCount != 1 {
		t.Errorf("Expected exactly one Finalize to report a save, got %d", savedCount)
	}
}

type failingWriter struct{}

func (failingWriter) SaveCheckpoint(*checkpoints.Checkpoint, string) error {
	return errors.New("disk full")
}

func TestCheckpointAuthorityWriteFailure(t *testing.T) {
	authority := NewCheckpointAuthority(failingWriter{}, "network.ckpt")
	saved, err := authority.Finalize(context.Background(), newFakeReplica(true, 1), 1)
	if err == nil {
		t.Error("Expected write failure to be reported")
	}
	if saved {
		t.Error("Failed write must not report a save")
	}
}

func TestCheckpointAuthorityRoundTrip(t *testing.T) {
	path := ModelCheckpointPath(t.TempDir())
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatProto)
	authority := NewCheckpointAuthority(saver, path)

	chief := newFakeReplica(true, 1)
	chief.params = Parameters{"w": {0.5, -0.5}, "b": {1}}
	if _, err := authority.Finalize(context.Background(), chief, 4); err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load final checkpoint: %v", err)
	}

	restored := Parameters{"w": make([]float64, 2), "b": make([]float64, 1)}
	if err := checkpoints.LoadWeights(loaded.Weights, restored); err != nil {
		t.Fatalf("Failed to restore weights: %v", err)
	}
	if restored["w"][1] != -0.5 || restored["b"][0] != 1 {
		t.Errorf("Unexpected restored parameters: %v", restored)
	}

	state := StateFromDurable(loaded.TrainingState)
	if state.LearningRateFactor != 1 || state.ValidatedStep != -1 {
		t.Errorf("Unexpected restored state: %+v", state)
	}
}
