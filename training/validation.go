package training

import (
	"context"
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// ValidationConfig controls when and how validation runs
type ValidationConfig struct {
	Mode      ValidationMode
	Frequency int
	Adapt     bool
}

// ValidationResult describes one completed validation
type ValidationResult struct {
	Step               uint64
	Score              float64
	PreviousScore      float64
	Halved             bool
	LearningRateFactor float64
}

// ValidationCycle periodically scores the model on held-out data and halves
// the learning rate when the score regresses
type ValidationCycle struct {
	config  ValidationConfig
	model   Model
	decoder Decoder
	source  *BatchSource
	out     io.Writer
}

// NewValidationCycle creates a validation cycle over the records of source.
// Loss mode needs model, decode mode needs decoder.
func NewValidationCycle(config ValidationConfig, model Model, decoder Decoder, source *BatchSource, out io.Writer) (*ValidationCycle, error) {
	if source == nil {
		return nil, fmt.Errorf("validation requires a batch source")
	}

	switch config.Mode {
	case ValidationModeLoss:
		if model == nil {
			return nil, fmt.Errorf("loss validation requires a model")
		}
	case ValidationModeDecode:
		if decoder == nil {
			return nil, fmt.Errorf("decode validation requires a decoder")
		}
	default:
		return nil, fmt.Errorf("unknown validation mode: %s", config.Mode)
	}

	return &ValidationCycle{
		config:  config,
		model:   model,
		decoder: decoder,
		source:  source,
		out:     out,
	}, nil
}

// Frequency returns the number of steps between validations
func (v *ValidationCycle) Frequency() int {
	return v.config.Frequency
}

// Due reports whether validation should run at step
func (v *ValidationCycle) Due(step uint64, validatedStep int64) bool {
	return ValidationDue(step, validatedStep, v.config.Frequency)
}

// Run validates at step if it is due. The claim on the step is recorded
// before scoring so that no other replica validates the same step. The
// returned boolean is false when validation was not due.
func (v *ValidationCycle) Run(ctx context.Context, step uint64, replica Replica) (ValidationResult, bool, error) {
	result := ValidationResult{Step: step}

	claimed, err := replica.ClaimValidation(ctx, step, v.config.Frequency)
	if err != nil {
		return result, false, fmt.Errorf("failed to claim validation: %v", err)
	}
	if !claimed {
		return result, false, nil
	}

	params, err := replica.Parameters(ctx)
	if err != nil {
		return result, true, fmt.Errorf("failed to fetch parameters for validation: %v", err)
	}

	score, err := v.Score(ctx, params, replica)
	if err != nil {
		return result, true, err
	}
	result.Score = score

	previous, err := replica.ValidationLoss(ctx)
	if err != nil {
		return result, true, fmt.Errorf("failed to read validation loss: %v", err)
	}
	result.PreviousScore = previous

	if score > previous && v.config.Adapt {
		factor, err := replica.HalveLearningRate(ctx)
		if err != nil {
			return result, true, fmt.Errorf("failed to halve learning rate: %v", err)
		}
		result.Halved = true
		result.LearningRateFactor = factor
	}

	// The latest score is recorded even when it is worse than the previous
	// one, so halving compares against the most recent validation.
	if err := replica.SetValidationLoss(ctx, score); err != nil {
		return result, true, fmt.Errorf("failed to record validation loss: %v", err)
	}

	return result, true, nil
}

// Score computes the validation score of params without touching the
// shared validation state
func (v *ValidationCycle) Score(ctx context.Context, params Parameters, lock ReaderLock) (float64, error) {
	if v.source.Corpus().Len() == 0 {
		return 0, ErrEmptyValidationSet
	}

	switch v.config.Mode {
	case ValidationModeDecode:
		return v.decodeScore(ctx, params, lock)
	default:
		return v.lossScore(ctx, params, lock)
	}
}

func (v *ValidationCycle) lossScore(ctx context.Context, params Parameters, lock ReaderLock) (float64, error) {
	corpus := v.source.Corpus()
	size := v.source.BatchSize()
	total := (corpus.Len() + size - 1) / size

	bar := NewProgressBar("Validation", total, v.out)

	losses := make([]float64, 0, total)
	weights := make([]float64, 0, total)
	for start := 0; start < corpus.Len(); start += size {
		end := min(start+size, corpus.Len())

		utterances, err := v.read(ctx, lock, start, end)
		if err != nil {
			return 0, err
		}
		batch, err := v.source.Assemble(utterances)
		if err != nil {
			return 0, fmt.Errorf("failed to assemble validation batch: %v", err)
		}

		logits, err := v.model.Compute(params, batch.Inputs, batch.Targets, false)
		if err != nil {
			return 0, fmt.Errorf("failed to compute validation logits: %v", err)
		}
		loss, err := v.model.Loss(batch.Targets, logits)
		if err != nil {
			return 0, fmt.Errorf("failed to compute validation loss: %v", err)
		}

		losses = append(losses, loss)
		weights = append(weights, float64(len(utterances)))
		bar.Update(len(losses), map[string]float64{"loss": loss})
	}
	bar.Finish()

	return WeightedLoss(losses, weights)
}

// read fetches corpus records [start, end) while holding the reader lock
func (v *ValidationCycle) read(ctx context.Context, lock ReaderLock, start, end int) (utterances []Utterance, err error) {
	if err := lock.AcquireReader(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire reader: %v", err)
	}
	defer func() {
		if releaseErr := lock.ReleaseReader(context.WithoutCancel(ctx)); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release reader: %v", releaseErr)
		}
	}()

	utterances = make([]Utterance, 0, end-start)
	for i := start; i < end; i++ {
		utt, err := v.source.Corpus().Utterance(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read validation utterance %d: %v", i, err)
		}
		utterances = append(utterances, utt)
	}
	return utterances, nil
}

func (v *ValidationCycle) decodeScore(ctx context.Context, params Parameters, lock ReaderLock) (float64, error) {
	corpus := v.source.Corpus()

	if err := lock.AcquireReader(ctx); err != nil {
		return 0, fmt.Errorf("failed to acquire reader: %v", err)
	}
	hypotheses, err := v.decoder.Decode(ctx, corpus, params)
	references := make(map[string][]int, corpus.Len())
	for i := 0; err == nil && i < corpus.Len(); i++ {
		var utt Utterance
		if utt, err = corpus.Utterance(i); err == nil {
			references[utt.ID] = utt.Text
		}
	}
	if releaseErr := lock.ReleaseReader(context.WithoutCancel(ctx)); releaseErr != nil && err == nil {
		err = fmt.Errorf("failed to release reader: %v", releaseErr)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decode validation set: %v", err)
	}

	score, err := v.decoder.Score(hypotheses, references)
	if err != nil {
		return 0, fmt.Errorf("failed to score validation set: %v", err)
	}
	return score, nil
}

// WeightedLoss averages per-batch losses weighted by the number of real
// records in each batch
func WeightedLoss(losses, weights []float64) (float64, error) {
	if len(losses) != len(weights) {
		return 0, fmt.Errorf("got %d losses and %d weights", len(losses), len(weights))
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return 0, ErrEmptyValidationSet
	}
	return stat.Mean(losses, weights), nil
}
