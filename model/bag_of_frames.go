package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-nabu/training"
)

// Parameter names used by BagOfFrames
const (
	WeightsParam = "weights"
	BiasParam    = "bias"
)

// BagOfFrames is a linear softmax classifier over the mean input frame. Its
// target is the label histogram of the utterance text, so it learns which
// labels an utterance contains but not their order. It is small enough to
// train on a CPU and has exact gradients, which makes it a reference model
// for exercising the trainer.
type BagOfFrames struct {
	InputDim   int
	NumClasses int
}

// NewBagOfFrames creates a model for inputDim-wide frames and numClasses labels
func NewBagOfFrames(inputDim, numClasses int) (*BagOfFrames, error) {
	if inputDim <= 0 || numClasses <= 1 {
		return nil, fmt.Errorf("invalid model size: input %d, classes %d", inputDim, numClasses)
	}
	return &BagOfFrames{InputDim: inputDim, NumClasses: numClasses}, nil
}

// Init returns freshly initialised parameters
func (m *BagOfFrames) Init(seed int64) training.Parameters {
	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(m.InputDim))

	weights := make([]float64, m.InputDim*m.NumClasses)
	for i := range weights {
		weights[i] = rng.NormFloat64() * scale
	}
	return training.Parameters{
		WeightsParam: weights,
		BiasParam:    make([]float64, m.NumClasses),
	}
}

func (m *BagOfFrames) unpack(params training.Parameters) (*mat.Dense, *mat.VecDense, error) {
	weights, ok := params[WeightsParam]
	if !ok || len(weights) != m.InputDim*m.NumClasses {
		return nil, nil, fmt.Errorf("parameter %s missing or of wrong size", WeightsParam)
	}
	bias, ok := params[BiasParam]
	if !ok || len(bias) != m.NumClasses {
		return nil, nil, fmt.Errorf("parameter %s missing or of wrong size", BiasParam)
	}
	return mat.NewDense(m.InputDim, m.NumClasses, weights), mat.NewVecDense(m.NumClasses, bias), nil
}

// meanFrame averages the first length frames of a record
func (m *BagOfFrames) meanFrame(frames [][]float64, length int) (*mat.VecDense, error) {
	mean := mat.NewVecDense(m.InputDim, nil)
	if length == 0 {
		return mean, nil
	}
	for t := 0; t < length; t++ {
		if len(frames[t]) != m.InputDim {
			return nil, fmt.Errorf("frame has %d features, model expects %d", len(frames[t]), m.InputDim)
		}
		mean.AddVec(mean, mat.NewVecDense(m.InputDim, frames[t]))
	}
	mean.ScaleVec(1/float64(length), mean)
	return mean, nil
}

// classify returns the softmax class distribution of x
func classify(weights *mat.Dense, bias, x *mat.VecDense) []float64 {
	var z mat.VecDense
	z.MulVec(weights.T(), x)
	z.AddVec(&z, bias)

	probs := make([]float64, z.Len())
	for i := range probs {
		probs[i] = z.AtVec(i)
	}
	softmax(probs)
	return probs
}

func softmax(z []float64) {
	shift := floats.Max(z)
	for i := range z {
		z[i] = math.Exp(z[i] - shift)
	}
	floats.Scale(1/floats.Sum(z), z)
}

// Compute returns the class distribution of every record as a single-step
// text logit
func (m *BagOfFrames) Compute(params training.Parameters, inputs training.Field, targets training.Targets, isTraining bool) (training.Logits, error) {
	weights, bias, err := m.unpack(params)
	if err != nil {
		return training.Logits{}, err
	}

	values := make([][][]float64, inputs.Size())
	lengths := make([]int, inputs.Size())
	for i := range values {
		x, err := m.meanFrame(inputs.Values[i], inputs.Lengths[i])
		if err != nil {
			return training.Logits{}, err
		}
		values[i] = [][]float64{classify(weights, bias, x)}
		lengths[i] = 1
	}

	return training.Logits{
		Text: training.Present(training.Field{Values: values, Lengths: lengths}),
	}, nil
}

// labelHistogram returns the normalised label counts of record i, or nil
// when the record has no text
func (m *BagOfFrames) labelHistogram(text training.Field, i int) ([]float64, error) {
	if text.Lengths[i] == 0 {
		return nil, nil
	}
	hist := make([]float64, m.NumClasses)
	for _, label := range text.Labels(i) {
		if label < 0 || label >= m.NumClasses {
			return nil, fmt.Errorf("label %d outside [0, %d)", label, m.NumClasses)
		}
		hist[label]++
	}
	floats.Scale(1/float64(text.Lengths[i]), hist)
	return hist, nil
}

// Loss is the mean cross entropy between the predicted distribution and the
// label histogram over records with a non-empty text
func (m *BagOfFrames) Loss(targets training.Targets, logits training.Logits) (float64, error) {
	probs, ok := logits.Text.Get()
	if !ok {
		return 0, fmt.Errorf("model produced no text logits")
	}

	var total float64
	var count int
	for i := range targets.Text.Lengths {
		hist, err := m.labelHistogram(targets.Text, i)
		if err != nil {
			return 0, err
		}
		if hist == nil {
			continue
		}
		p := probs.Values[i][0]
		for c, y := range hist {
			if y > 0 {
				total -= y * math.Log(math.Max(p[c], 1e-12))
			}
		}
		count++
	}

	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// Gradients returns the exact gradient of Loss
func (m *BagOfFrames) Gradients(params training.Parameters, inputs training.Field, targets training.Targets, logits training.Logits) (training.Gradients, error) {
	probs, ok := logits.Text.Get()
	if !ok {
		return nil, fmt.Errorf("model produced no text logits")
	}

	dWeights := mat.NewDense(m.InputDim, m.NumClasses, nil)
	dBias := mat.NewVecDense(m.NumClasses, nil)

	count := 0
	for i := range targets.Text.Lengths {
		hist, err := m.labelHistogram(targets.Text, i)
		if err != nil {
			return nil, err
		}
		if hist == nil {
			continue
		}

		x, err := m.meanFrame(inputs.Values[i], inputs.Lengths[i])
		if err != nil {
			return nil, err
		}
		diff := mat.NewVecDense(m.NumClasses, nil)
		diff.SubVec(mat.NewVecDense(m.NumClasses, probs.Values[i][0]), mat.NewVecDense(m.NumClasses, hist))

		dWeights.RankOne(dWeights, 1, x, diff)
		dBias.AddVec(dBias, diff)
		count++
	}

	if count > 0 {
		dWeights.Scale(1/float64(count), dWeights)
		dBias.ScaleVec(1/float64(count), dBias)
	}

	return training.Gradients{
		WeightsParam: dWeights.RawMatrix().Data,
		BiasParam:    dBias.RawVector().Data,
	}, nil
}

var _ training.Model = (*BagOfFrames)(nil)
