package training

import (
	"fmt"
)

// Field is one padded component of a batch. Values is indexed
// [record][time][feature] and every record is padded to the same length;
// Lengths keeps the true length of each record.
type Field struct {
	Values  [][][]float64
	Lengths []int
}

// Size returns the number of records in the field
func (f Field) Size() int {
	return len(f.Lengths)
}

// PaddedLength returns the common padded length of the records
func (f Field) PaddedLength() int {
	if len(f.Values) == 0 {
		return 0
	}
	return len(f.Values[0])
}

// Targets groups the supervision for a batch. Reconstruction is only present
// for models that also reconstruct their input.
type Targets struct {
	Text           Field
	Reconstruction Optional[Field]
}

// Batch is a fixed-size group of records ready for the model
type Batch struct {
	IDs     []string
	Inputs  Field
	Targets Targets
}

// Size returns the number of records in the batch, padding records included
func (b *Batch) Size() int {
	return len(b.IDs)
}

// Pad zero-pads every sequence to length. dim is the row width used for
// padding rows of empty sequences. A sequence that is already longer than
// length is an error. Padding an already padded input returns it unchanged.
func Pad(sequences [][][]float64, length, dim int) ([][][]float64, error) {
	padded := make([][][]float64, len(sequences))
	for i, seq := range sequences {
		if len(seq) > length {
			return nil, fmt.Errorf("sequence %d has length %d which exceeds the maximum length %d", i, len(seq), length)
		}

		rows := make([][]float64, length)
		copy(rows, seq)
		for t := len(seq); t < length; t++ {
			rows[t] = make([]float64, dim)
		}
		padded[i] = rows
	}
	return padded, nil
}

// PadField pads sequences and records their true lengths
func PadField(sequences [][][]float64, length, dim int) (Field, error) {
	values, err := Pad(sequences, length, dim)
	if err != nil {
		return Field{}, err
	}

	lengths := make([]int, len(sequences))
	for i, seq := range sequences {
		lengths[i] = len(seq)
	}
	return Field{Values: values, Lengths: lengths}, nil
}

// labelRows turns a label sequence into one single-feature row per label
func labelRows(labels []int) [][]float64 {
	rows := make([][]float64, len(labels))
	for i, label := range labels {
		rows[i] = []float64{float64(label)}
	}
	return rows
}

// Labels recovers the label sequence of record i from a text field
func (f Field) Labels(i int) []int {
	labels := make([]int, f.Lengths[i])
	for t := range labels {
		labels[t] = int(f.Values[i][t][0])
	}
	return labels
}
