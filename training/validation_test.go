package training

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/mock/gomock"
)

func TestWeightedLoss(t *testing.T) {
	tests := []struct {
		name     string
		losses   []float64
		weights  []float64
		expected float64
		err      error
	}{
		{"padding batch ignored", []float64{2, 3, 1}, []float64{4, 2, 0}, 14.0 / 6.0, nil},
		{"equal weights", []float64{1, 3}, []float64{5, 5}, 2, nil},
		{"all padding", []float64{1, 2}, []float64{0, 0}, 0, ErrEmptyValidationSet},
		{"no batches", nil, nil, 0, ErrEmptyValidationSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedLoss(tt.losses, tt.weights)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("Expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}

	if _, err := WeightedLoss([]float64{1}, nil); err == nil {
		t.Error("Expected error for mismatched lengths")
	}
}

func newValidationSource(t *testing.T, n, batchSize int) *BatchSource {
	t.Helper()
	source, err := NewBatchSource(testCorpus(n), BatchConfig{BatchSize: batchSize})
	if err != nil {
		t.Fatalf("Failed to create validation source: %v", err)
	}
	return source
}

func TestValidationCycleLossMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := NewMockModel(ctrl)

	// Six records in batches of four: the second batch has two real records
	source := newValidationSource(t, 6, 4)
	gomock.InOrder(
		model.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any(), false).Return(Logits{}, nil),
		model.EXPECT().Loss(gomock.Any(), gomock.Any()).Return(2.0, nil),
		model.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any(), false).Return(Logits{}, nil),
		model.EXPECT().Loss(gomock.Any(), gomock.Any()).Return(3.0, nil),
	)

	var out bytes.Buffer
	cycle, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeLoss, Frequency: 10, Adapt: true}, model, nil, source, &out)
	if err != nil {
		t.Fatalf("Failed to create validation cycle: %v", err)
	}

	replica := newFakeReplica(true, 10)
	result, ran, err := cycle.Run(context.Background(), 0, replica)
	if err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	if !ran {
		t.Fatal("Expected validation to run at step 0")
	}

	// (4*2.0 + 2*3.0) / 6
	if math.Abs(result.Score-14.0/6.0) > 1e-12 {
		t.Errorf("Expected weighted score %f, got %f", 14.0/6.0, result.Score)
	}
	if result.Halved {
		t.Error("First validation must not halve the learning rate")
	}
	if replica.state.ValidatedStep != 0 {
		t.Errorf("Expected validated step 0, got %d", replica.state.ValidatedStep)
	}
	if replica.state.ValidationLoss != result.Score {
		t.Errorf("Expected recorded loss %f, got %f", result.Score, replica.state.ValidationLoss)
	}
	if replica.acquires != 2 || replica.releases != 2 {
		t.Errorf("Expected reader held once per batch, got %d acquires and %d releases", replica.acquires, replica.releases)
	}
	if out.Len() == 0 {
		t.Error("Expected validation progress output")
	}
}

func TestValidationCycleAdaptation(t *testing.T) {
	tests := []struct {
		name          string
		adapt         bool
		previous      float64
		score         float64
		expectHalved  bool
		expectedAfter float64
	}{
		{"regression halves", true, 1.0, 2.0, true, 0.5},
		{"improvement keeps rate", true, 2.0, 1.0, false, 1.0},
		{"equal keeps rate", true, 1.5, 1.5, false, 1.0},
		{"regression without adapt", false, 1.0, 2.0, false, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			decoder := NewMockDecoder(ctrl)
			decoder.EXPECT().Decode(gomock.Any(), gomock.Any(), gomock.Any()).Return(map[string][]int{}, nil)
			decoder.EXPECT().Score(gomock.Any(), gomock.Any()).Return(tt.score, nil)

			cycle, err := NewValidationCycle(
				ValidationConfig{Mode: ValidationModeDecode, Frequency: 5, Adapt: tt.adapt},
				nil, decoder, newValidationSource(t, 3, 2), &bytes.Buffer{})
			if err != nil {
				t.Fatalf("Failed to create validation cycle: %v", err)
			}

			replica := newFakeReplica(true, 5)
			replica.state.ValidationLoss = tt.previous

			result, ran, err := cycle.Run(context.Background(), 0, replica)
			if err != nil || !ran {
				t.Fatalf("Expected validation to run, got ran=%v err=%v", ran, err)
			}
			if result.Halved != tt.expectHalved {
				t.Errorf("Expected halved=%v, got %v", tt.expectHalved, result.Halved)
			}
			if replica.state.LearningRateFactor != tt.expectedAfter {
				t.Errorf("Expected factor %f, got %f", tt.expectedAfter, replica.state.LearningRateFactor)
			}
			// The latest score is always recorded
			if replica.state.ValidationLoss != tt.score {
				t.Errorf("Expected recorded loss %f, got %f", tt.score, replica.state.ValidationLoss)
			}
		})
	}
}

func TestValidationCycleHalvingSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	decoder := NewMockDecoder(ctrl)

	scores := []float64{1, 2, 3, 4, 5}
	decoder.EXPECT().Decode(gomock.Any(), gomock.Any(), gomock.Any()).Return(map[string][]int{}, nil).Times(len(scores))
	next := 0
	decoder.EXPECT().Score(gomock.Any(), gomock.Any()).DoAndReturn(
		func(hypotheses, references map[string][]int) (float64, error) {
			score := scores[next]
			next++
			return score, nil
		}).Times(len(scores))

	cycle, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeDecode, Frequency: 1, Adapt: true},
		nil, decoder, newValidationSource(t, 2, 2), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Failed to create validation cycle: %v", err)
	}

	replica := newFakeReplica(true, 1)
	for step := range scores {
		if _, _, err := cycle.Run(context.Background(), uint64(step), replica); err != nil {
			t.Fatalf("Validation at step %d failed: %v", step, err)
		}
		// k regressions leave the factor at 1/2^k
		expected := 1 / math.Pow(2, float64(step))
		if replica.state.LearningRateFactor != expected {
			t.Errorf("Step %d: expected factor %g, got %g", step, expected, replica.state.LearningRateFactor)
		}
	}
}

func TestValidationCycleDecodeReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	decoder := NewMockDecoder(ctrl)

	hypotheses := map[string][]int{"utt0": {}, "utt1": {1}}
	decoder.EXPECT().Decode(gomock.Any(), gomock.Any(), gomock.Any()).Return(hypotheses, nil)
	decoder.EXPECT().Score(hypotheses, map[string][]int{"utt0": {}, "utt1": {1}}).Return(0.25, nil)

	cycle, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeDecode, Frequency: 1},
		nil, decoder, newValidationSource(t, 2, 2), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Failed to create validation cycle: %v", err)
	}

	replica := newFakeReplica(true, 1)
	result, _, err := cycle.Run(context.Background(), 0, replica)
	if err != nil {
		t.Fatalf("Validation failed: %v", err)
	}
	if result.Score != 0.25 {
		t.Errorf("Expected score 0.25, got %f", result.Score)
	}
	if replica.readerHeld {
		t.Error("Reader lock was not released after decoding")
	}
}

func TestValidationCycleNotDue(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := NewMockModel(ctrl)

	cycle, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeLoss, Frequency: 10},
		model, nil, newValidationSource(t, 2, 2), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Failed to create validation cycle: %v", err)
	}

	replica := newFakeReplica(true, 10)
	replica.state.ValidatedStep = 5

	for _, step := range []uint64{5, 10, 14} {
		_, ran, err := cycle.Run(context.Background(), step, replica)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if ran {
			t.Errorf("Validation should not run at step %d", step)
		}
	}
	if replica.state.ValidatedStep != 5 {
		t.Errorf("Expected validated step to stay 5, got %d", replica.state.ValidatedStep)
	}

	if !cycle.Due(15, 5) || cycle.Due(14, 5) {
		t.Error("Due disagrees with the validation frequency")
	}
}

func TestValidationCycleErrors(t *testing.T) {
	t.Run("model failure is fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		model := NewMockModel(ctrl)
		model.EXPECT().Compute(gomock.Any(), gomock.Any(), gomock.Any(), false).Return(Logits{}, errors.New("boom"))

		cycle, _ := NewValidationCycle(ValidationConfig{Mode: ValidationModeLoss, Frequency: 1},
			model, nil, newValidationSource(t, 2, 2), &bytes.Buffer{})
		replica := newFakeReplica(true, 1)
		if _, _, err := cycle.Run(context.Background(), 0, replica); err == nil {
			t.Error("Expected model error to propagate")
		}
		if replica.readerHeld {
			t.Error("Reader lock leaked after a failed validation")
		}
	})

	t.Run("missing collaborators", func(t *testing.T) {
		source := newValidationSource(t, 2, 2)
		if _, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeLoss}, nil, nil, source, nil); err == nil {
			t.Error("Expected error for loss mode without model")
		}
		if _, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeDecode}, nil, nil, source, nil); err == nil {
			t.Error("Expected error for decode mode without decoder")
		}
		if _, err := NewValidationCycle(ValidationConfig{Mode: "accuracy"}, nil, nil, source, nil); err == nil {
			t.Error("Expected error for unknown mode")
		}
		if _, err := NewValidationCycle(ValidationConfig{Mode: ValidationModeLoss}, nil, nil, nil, nil); err == nil {
			t.Error("Expected error for missing source")
		}
	})
}
