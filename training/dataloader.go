package training

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// Utterance is a single training record as stored in a corpus
type Utterance struct {
	ID             string      `json:"id"`
	Features       [][]float64 `json:"features"`
	Text           []int       `json:"text"`
	Reconstruction [][]float64 `json:"reconstruction,omitempty"`
}

// Corpus interface defines methods that all utterance collections must implement
type Corpus interface {
	Len() int                             // Total number of utterances
	Utterance(idx int) (Utterance, error) // Returns a single utterance
}

// MemoryCorpus holds every utterance in memory
type MemoryCorpus struct {
	utterances []Utterance
}

// NewMemoryCorpus creates a corpus from already loaded utterances
func NewMemoryCorpus(utterances []Utterance) *MemoryCorpus {
	return &MemoryCorpus{utterances: utterances}
}

func (c *MemoryCorpus) Len() int {
	return len(c.utterances)
}

func (c *MemoryCorpus) Utterance(idx int) (Utterance, error) {
	if idx < 0 || idx >= len(c.utterances) {
		return Utterance{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(c.utterances))
	}
	return c.utterances[idx], nil
}

// LoadJSONLCorpus reads a corpus stored as one JSON utterance per line
func LoadJSONLCorpus(path string) (*MemoryCorpus, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %v", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(bufio.NewReader(file))
	var utterances []Utterance
	for {
		var utt Utterance
		err := decoder.Decode(&utt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode utterance %d in %s: %v", len(utterances), path, err)
		}
		if utt.ID == "" {
			utt.ID = fmt.Sprintf("utt%d", len(utterances))
		}
		utterances = append(utterances, utt)
	}

	return NewMemoryCorpus(utterances), nil
}

// BatchConfig sizes the batches produced by a BatchSource. A zero maximum
// length is derived from the longest record in the corpus.
type BatchConfig struct {
	BatchSize               int
	MaxInputLength          int
	MaxTextLength           int
	MaxReconstructionLength int
}

// BatchSource turns a corpus into an endless stream of fixed-size padded
// batches. It holds no cursor of its own: callers pass the shared position
// and store the position returned, which is what lets several replicas draw
// from the same stream without repeating records.
type BatchSource struct {
	corpus            Corpus
	config            BatchConfig
	inputDim          int
	reconstructionDim int
	hasReconstruction bool
}

// NewBatchSource creates a batch source over corpus
func NewBatchSource(corpus Corpus, config BatchConfig) (*BatchSource, error) {
	if corpus.Len() == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}

	source := &BatchSource{
		corpus: corpus,
		config: config,
	}

	// Records without a reconstruction target are padded as zero-length
	// records when any other record carries one.
	deriveInput := config.MaxInputLength == 0
	deriveText := config.MaxTextLength == 0
	deriveReconstruction := config.MaxReconstructionLength == 0

	for i := 0; i < corpus.Len(); i++ {
		utt, err := corpus.Utterance(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read utterance %d: %v", i, err)
		}
		if source.inputDim == 0 && len(utt.Features) > 0 {
			source.inputDim = len(utt.Features[0])
		}
		if utt.Reconstruction != nil {
			source.hasReconstruction = true
		}
		if source.reconstructionDim == 0 && len(utt.Reconstruction) > 0 {
			source.reconstructionDim = len(utt.Reconstruction[0])
		}
		if deriveInput && len(utt.Features) > source.config.MaxInputLength {
			source.config.MaxInputLength = len(utt.Features)
		}
		if deriveText && len(utt.Text) > source.config.MaxTextLength {
			source.config.MaxTextLength = len(utt.Text)
		}
		if deriveReconstruction && len(utt.Reconstruction) > source.config.MaxReconstructionLength {
			source.config.MaxReconstructionLength = len(utt.Reconstruction)
		}
	}

	return source, nil
}

// Corpus returns the underlying corpus
func (s *BatchSource) Corpus() Corpus {
	return s.corpus
}

// Config returns the effective configuration with derived lengths filled in
func (s *BatchSource) Config() BatchConfig {
	return s.config
}

// BatchSize returns the number of records per batch
func (s *BatchSource) BatchSize() int {
	return s.config.BatchSize
}

// InputDim returns the width of one input frame
func (s *BatchSource) InputDim() int {
	return s.inputDim
}

// NumBatches returns the number of batches in one pass over the corpus
func (s *BatchSource) NumBatches() int {
	return (s.corpus.Len() + s.config.BatchSize - 1) / s.config.BatchSize
}

// Next reads BatchSize utterances starting at position, wrapping around the
// end of the corpus, and returns the batch with the position that follows it.
func (s *BatchSource) Next(position uint64) (*Batch, uint64, error) {
	n := uint64(s.corpus.Len())
	pos := position % n

	utterances := make([]Utterance, 0, s.config.BatchSize)
	for len(utterances) < s.config.BatchSize {
		utt, err := s.corpus.Utterance(int(pos))
		if err != nil {
			return nil, position, fmt.Errorf("failed to read utterance %d: %v", pos, err)
		}
		utterances = append(utterances, utt)
		pos = (pos + 1) % n
	}

	batch, err := s.Assemble(utterances)
	if err != nil {
		return nil, position, err
	}
	return batch, pos, nil
}

// Assemble pads an explicit list of utterances into a batch. Lists shorter
// than the batch size are filled with zero-length records, which is how the
// final partial validation batch keeps the fixed batch shape.
func (s *BatchSource) Assemble(utterances []Utterance) (*Batch, error) {
	if len(utterances) > s.config.BatchSize {
		return nil, fmt.Errorf("cannot assemble %d utterances into a batch of %d", len(utterances), s.config.BatchSize)
	}

	size := s.config.BatchSize
	ids := make([]string, size)
	inputs := make([][][]float64, size)
	text := make([][][]float64, size)
	var reconstruction [][][]float64
	if s.hasReconstruction {
		reconstruction = make([][][]float64, size)
	}

	for i, utt := range utterances {
		ids[i] = utt.ID
		inputs[i] = utt.Features
		text[i] = labelRows(utt.Text)
		if s.hasReconstruction {
			reconstruction[i] = utt.Reconstruction
		}
	}

	batch := &Batch{IDs: ids}

	var err error
	if batch.Inputs, err = PadField(inputs, s.config.MaxInputLength, s.inputDim); err != nil {
		return nil, fmt.Errorf("failed to pad inputs: %v", err)
	}
	if batch.Targets.Text, err = PadField(text, s.config.MaxTextLength, 1); err != nil {
		return nil, fmt.Errorf("failed to pad text targets: %v", err)
	}
	if s.hasReconstruction {
		field, err := PadField(reconstruction, s.config.MaxReconstructionLength, s.reconstructionDim)
		if err != nil {
			return nil, fmt.Errorf("failed to pad reconstruction targets: %v", err)
		}
		batch.Targets.Reconstruction = Present(field)
	}

	return batch, nil
}

// Split carves the last n utterances off the corpus. It returns a batch
// source over the remaining utterances and the held-out corpus.
func (s *BatchSource) Split(n int) (*BatchSource, Corpus, error) {
	total := s.corpus.Len()
	if n <= 0 || n >= total {
		return nil, nil, fmt.Errorf("cannot hold out %d of %d utterances", n, total)
	}

	train, err := NewSubsetCorpus(s.corpus, 0, total-n)
	if err != nil {
		return nil, nil, err
	}
	held, err := NewSubsetCorpus(s.corpus, total-n, n)
	if err != nil {
		return nil, nil, err
	}

	source := *s
	source.corpus = train
	return &source, held, nil
}

// WithCorpus returns a batch source over another corpus with the same batch
// shape. Lengths grow to fit the new corpus when it holds longer records.
func (s *BatchSource) WithCorpus(corpus Corpus) (*BatchSource, error) {
	other, err := NewBatchSource(corpus, BatchConfig{BatchSize: s.config.BatchSize})
	if err != nil {
		return nil, err
	}

	other.config.MaxInputLength = max(other.config.MaxInputLength, s.config.MaxInputLength)
	other.config.MaxTextLength = max(other.config.MaxTextLength, s.config.MaxTextLength)
	other.config.MaxReconstructionLength = max(other.config.MaxReconstructionLength, s.config.MaxReconstructionLength)
	if other.inputDim == 0 {
		other.inputDim = s.inputDim
	}
	other.hasReconstruction = other.hasReconstruction || s.hasReconstruction
	if other.reconstructionDim == 0 {
		other.reconstructionDim = s.reconstructionDim
	}
	return other, nil
}
