package training

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsawler/go-nabu/checkpoints"
)

// fakeReplica is an in-process single replica that applies plain gradient
// descent and records how the shared state was used
type fakeReplica struct {
	mu     sync.Mutex
	chief  bool
	state  State
	params Parameters
	lr     float64

	readerHeld      bool
	acquires        int
	releases        int
	doubleAcquire   bool
	staleSteps      map[uint64]bool
	failPosition    bool
	submitted       []uint64
	sparsityFactors []float64
}

func newFakeReplica(chief bool, validFrequency int) *fakeReplica {
	return &fakeReplica{
		chief:      chief,
		state:      NewState(validFrequency),
		params:     Parameters{"w": {0, 0}},
		lr:         0.1,
		staleSteps: make(map[uint64]bool),
	}
}

func (r *fakeReplica) IsChief() bool { return r.chief }

func (r *fakeReplica) CurrentStep(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GlobalStep, nil
}

func (r *fakeReplica) SubmitGradient(ctx context.Context, step uint64, grads Gradients) (Update, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.submitted = append(r.submitted, step)
	if r.staleSteps[step] {
		delete(r.staleSteps, step)
		return Update{}, ErrStaleStep
	}
	if step != r.state.GlobalStep {
		return Update{}, ErrStaleStep
	}

	lr := r.lr * r.state.LearningRateFactor
	for name, grad := range grads {
		for i := range grad {
			r.params[name][i] -= lr * grad[i]
		}
	}
	r.state.GlobalStep++
	return Update{Step: r.state.GlobalStep, LearningRate: lr}, nil
}

func (r *fakeReplica) Parameters(ctx context.Context) (Parameters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Clone(), nil
}

func (r *fakeReplica) AcquireReader(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readerHeld {
		r.doubleAcquire = true
	}
	r.readerHeld = true
	r.state.Reading = true
	r.acquires++
	return nil
}

func (r *fakeReplica) ReleaseReader(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readerHeld = false
	r.state.Reading = false
	r.releases++
	return nil
}

func (r *fakeReplica) Position(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPosition {
		return 0, fmt.Errorf("position unavailable")
	}
	return r.state.Position, nil
}

func (r *fakeReplica) SetPosition(ctx context.Context, position uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Position = position
	return nil
}

func (r *fakeReplica) ClaimValidation(ctx context.Context, step uint64, frequency int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ValidationDue(step, r.state.ValidatedStep, frequency) {
		return false, nil
	}
	r.state.ValidatedStep = int64(step)
	return true, nil
}

func (r *fakeReplica) ValidationLoss(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ValidationLoss, nil
}

func (r *fakeReplica) SetValidationLoss(ctx context.Context, loss float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ValidationLoss = loss
	return nil
}

func (r *fakeReplica) HalveLearningRate(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.LearningRateFactor /= 2
	return r.state.LearningRateFactor, nil
}

func (r *fakeReplica) SetSparsityFactor(ctx context.Context, factor float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.SparsityFactor = factor
	r.sparsityFactors = append(r.sparsityFactors, factor)
	return nil
}

func (r *fakeReplica) Snapshot(ctx context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

// countingWriter records every checkpoint it is asked to save
type countingWriter struct {
	mu    sync.Mutex
	saved []*checkpoints.Checkpoint
	paths []string
}

func (w *countingWriter) SaveCheckpoint(checkpoint *checkpoints.Checkpoint, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, checkpoint)
	w.paths = append(w.paths, path)
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

// testCorpus builds n utterances with two-dimensional frames. Utterance i
// has i%3+1 frames and i%2 labels, so every other record has an empty text.
func testCorpus(n int) *MemoryCorpus {
	utterances := make([]Utterance, n)
	for i := range utterances {
		frames := make([][]float64, i%3+1)
		for t := range frames {
			frames[t] = []float64{float64(i), float64(t)}
		}
		text := make([]int, i%2)
		for t := range text {
			text[t] = i % 4
		}
		utterances[i] = Utterance{
			ID:       fmt.Sprintf("utt%d", i),
			Features: frames,
			Text:     text,
		}
	}
	return NewMemoryCorpus(utterances)
}

func boolPtr(v bool) *bool { return &v }

func testTrainerConfig() TrainerConfig {
	config := DefaultTrainerConfig()
	config.NumEpochs = 2
	config.BatchSize = 2
	config.InitialLearningRate = 0.1
	config.ValidAdapt = boolPtr(true)
	return config
}
