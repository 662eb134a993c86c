package training

import (
	"fmt"
)

// SubsetCorpus exposes a contiguous window of an underlying corpus
type SubsetCorpus struct {
	original Corpus
	offset   int
	limit    int
}

// NewSubsetCorpus creates a corpus over limit utterances of original starting at offset
func NewSubsetCorpus(original Corpus, offset, limit int) (*SubsetCorpus, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("offset and limit cannot be negative")
	}
	if offset > original.Len() {
		return nil, fmt.Errorf("offset %d beyond corpus length %d", offset, original.Len())
	}
	if offset+limit > original.Len() {
		limit = original.Len() - offset
	}
	return &SubsetCorpus{
		original: original,
		offset:   offset,
		limit:    limit,
	}, nil
}

func (sc *SubsetCorpus) Len() int {
	return sc.limit
}

func (sc *SubsetCorpus) Utterance(idx int) (Utterance, error) {
	if idx < 0 || idx >= sc.limit {
		return Utterance{}, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, sc.limit)
	}
	return sc.original.Utterance(sc.offset + idx)
}
