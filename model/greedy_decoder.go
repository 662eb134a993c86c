package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-nabu/training"
)

// NoBlank disables blank removal in GreedyDecoder
const NoBlank = -1

// GreedyDecoder labels every frame with the most likely class of a
// BagOfFrames model, merges runs of the same label and drops the blank label.
type GreedyDecoder struct {
	model *BagOfFrames
	blank int
}

// NewGreedyDecoder creates a decoder for model. Pass NoBlank to keep every
// label.
func NewGreedyDecoder(model *BagOfFrames, blank int) (*GreedyDecoder, error) {
	if model == nil {
		return nil, fmt.Errorf("decoder requires a model")
	}
	if blank != NoBlank && (blank < 0 || blank >= model.NumClasses) {
		return nil, fmt.Errorf("blank label %d outside [0, %d)", blank, model.NumClasses)
	}
	return &GreedyDecoder{model: model, blank: blank}, nil
}

// DecodeFrames returns the label sequence for a single utterance
func (d *GreedyDecoder) DecodeFrames(params training.Parameters, frames [][]float64) ([]int, error) {
	weights, bias, err := d.model.unpack(params)
	if err != nil {
		return nil, err
	}

	labels := []int{}
	previous := NoBlank
	for _, frame := range frames {
		if len(frame) != d.model.InputDim {
			return nil, fmt.Errorf("frame has %d features, model expects %d", len(frame), d.model.InputDim)
		}
		label := floats.MaxIdx(classify(weights, bias, mat.NewVecDense(d.model.InputDim, frame)))
		if label != previous && label != d.blank {
			labels = append(labels, label)
		}
		previous = label
	}
	return labels, nil
}

// Decode labels every utterance in corpus
func (d *GreedyDecoder) Decode(ctx context.Context, corpus training.Corpus, params training.Parameters) (map[string][]int, error) {
	hypotheses := make(map[string][]int, corpus.Len())
	for i := 0; i < corpus.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		utt, err := corpus.Utterance(i)
		if err != nil {
			return nil, err
		}
		labels, err := d.DecodeFrames(params, utt.Features)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %v", utt.ID, err)
		}
		hypotheses[utt.ID] = labels
	}
	return hypotheses, nil
}

// Score returns the label error rate: the total edit distance between
// hypotheses and references divided by the total reference length. A missing
// hypothesis counts as empty.
func (d *GreedyDecoder) Score(hypotheses, references map[string][]int) (float64, error) {
	if len(references) == 0 {
		return 0, fmt.Errorf("no references to score against")
	}

	var edits, length int
	for id, reference := range references {
		edits += EditDistance(hypotheses[id], reference)
		length += len(reference)
	}
	if length == 0 {
		return float64(edits), nil
	}
	return float64(edits) / float64(length), nil
}

// EditDistance is the Levenshtein distance between two label sequences
func EditDistance(a, b []int) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		diagonal := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			substitution := diagonal
			if a[i-1] != b[j-1] {
				substitution++
			}
			diagonal = row[j]
			row[j] = min(substitution, row[j]+1, row[j-1]+1)
		}
	}
	return row[len(b)]
}

var _ training.Decoder = (*GreedyDecoder)(nil)
