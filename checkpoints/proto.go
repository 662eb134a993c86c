package checkpoints

import (
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary checkpoint layout. The layout is a plain
// protobuf message so any protobuf tooling can inspect a checkpoint:
//
//	message Checkpoint {
//	  repeated Tensor weights = 1;
//	  TrainingState training_state = 2;
//	  OptimizerState optimizer_state = 3;
//	  Metadata metadata = 4;
//	}
const (
	fieldWeights        protowire.Number = 1
	fieldTrainingState  protowire.Number = 2
	fieldOptimizerState protowire.Number = 3
	fieldMetadata       protowire.Number = 4
)

// Tensor fields (shared by weights and optimizer tensors)
const (
	fieldTensorName      protowire.Number = 1
	fieldTensorShape     protowire.Number = 2
	fieldTensorData      protowire.Number = 3
	fieldTensorStateType protowire.Number = 4
)

// TrainingState fields
const (
	fieldGlobalStep         protowire.Number = 1
	fieldValidatedStep      protowire.Number = 2
	fieldValidationLoss     protowire.Number = 3
	fieldLearningRateFactor protowire.Number = 4
	fieldSparsityFactor     protowire.Number = 5
	fieldPosition           protowire.Number = 6
	fieldTotalSteps         protowire.Number = 7
)

// OptimizerState fields
const (
	fieldOptimizerType       protowire.Number = 1
	fieldOptimizerStateData  protowire.Number = 2
	fieldOptimizerParameter  protowire.Number = 3
	fieldParameterEntryKey   protowire.Number = 1
	fieldParameterEntryValue protowire.Number = 2
)

// Metadata fields
const (
	fieldMetadataVersion     protowire.Number = 1
	fieldMetadataFramework   protowire.Number = 2
	fieldMetadataCreatedAt   protowire.Number = 3
	fieldMetadataDescription protowire.Number = 4
	fieldMetadataTags        protowire.Number = 5
)

func marshalProto(cp *Checkpoint) ([]byte, error) {
	var b []byte

	for _, w := range cp.Weights {
		b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, w.Name, w.Shape, w.Data, ""))
	}

	b = protowire.AppendTag(b, fieldTrainingState, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTrainingState(nil, cp.TrainingState))

	if cp.OptimizerState != nil {
		state, err := appendOptimizerState(nil, cp.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldOptimizerState, protowire.BytesType)
		b = protowire.AppendBytes(b, state)
	}

	b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMetadata(nil, cp.Metadata))

	return b, nil
}

func appendTensor(b []byte, name string, shape []int, data []float64, stateType string) []byte {
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var packedShape []byte
	for _, dim := range shape {
		packedShape = protowire.AppendVarint(packedShape, uint64(dim))
	}
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packedShape)

	packedData := make([]byte, 0, 8*len(data))
	for _, v := range data {
		packedData = protowire.AppendFixed64(packedData, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, packedData)

	if stateType != "" {
		b = protowire.AppendTag(b, fieldTensorStateType, protowire.BytesType)
		b = protowire.AppendString(b, stateType)
	}
	return b
}

func appendTrainingState(b []byte, s TrainingState) []byte {
	b = protowire.AppendTag(b, fieldGlobalStep, protowire.VarintType)
	b = protowire.AppendVarint(b, s.GlobalStep)
	b = protowire.AppendTag(b, fieldValidatedStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ValidatedStep))
	b = protowire.AppendTag(b, fieldValidationLoss, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.ValidationLoss))
	b = protowire.AppendTag(b, fieldLearningRateFactor, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.LearningRateFactor))
	b = protowire.AppendTag(b, fieldSparsityFactor, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.SparsityFactor))
	b = protowire.AppendTag(b, fieldPosition, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Position)
	b = protowire.AppendTag(b, fieldTotalSteps, protowire.VarintType)
	b = protowire.AppendVarint(b, s.TotalSteps)
	return b
}

func appendOptimizerState(b []byte, s *OptimizerState) ([]byte, error) {
	b = protowire.AppendTag(b, fieldOptimizerType, protowire.BytesType)
	b = protowire.AppendString(b, s.Type)

	for _, t := range s.StateData {
		b = protowire.AppendTag(b, fieldOptimizerStateData, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, t.Name, t.Shape, t.Data, t.StateType))
	}

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := toFloat(s.Parameters[k])
		if err != nil {
			return nil, fmt.Errorf("optimizer parameter %s: %v", k, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldParameterEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldParameterEntryValue, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(v))
		b = protowire.AppendTag(b, fieldOptimizerParameter, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b, nil
}

func appendMetadata(b []byte, m CheckpointMetadata) []byte {
	b = protowire.AppendTag(b, fieldMetadataVersion, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	b = protowire.AppendTag(b, fieldMetadataFramework, protowire.BytesType)
	b = protowire.AppendString(b, m.Framework)
	b = protowire.AppendTag(b, fieldMetadataCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	if m.Description != "" {
		b = protowire.AppendTag(b, fieldMetadataDescription, protowire.BytesType)
		b = protowire.AppendString(b, m.Description)
	}
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, fieldMetadataTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// walkFields calls fn for each field in a serialized message. fn consumes the
// field value and returns the number of bytes used, or a negative protowire
// error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var inner error

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}

		switch num {
		case fieldWeights:
			t, err := unmarshalTensor(v)
			if err != nil {
				inner = err
				return n
			}
			cp.Weights = append(cp.Weights, WeightTensor{Name: t.Name, Shape: t.Shape, Data: t.Data})
		case fieldTrainingState:
			state, err := unmarshalTrainingState(v)
			if err != nil {
				inner = err
			}
			cp.TrainingState = state
		case fieldOptimizerState:
			state, err := unmarshalOptimizerState(v)
			if err != nil {
				inner = err
			}
			cp.OptimizerState = state
		case fieldMetadata:
			meta, err := unmarshalMetadata(v)
			if err != nil {
				inner = err
			}
			cp.Metadata = meta
		}
		return n
	})
	if err != nil {
		return nil, err
	}
	if inner != nil {
		return nil, inner
	}
	return cp, nil
}

func unmarshalTensor(b []byte) (OptimizerTensor, error) {
	var t OptimizerTensor

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == fieldTensorName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.Name = v
			return n
		case num == fieldTensorStateType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			t.StateType = v
			return n
		case num == fieldTensorShape && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m
				}
				t.Shape = append(t.Shape, int(v))
				packed = packed[m:]
			}
			return n
		case num == fieldTensorData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			t.Data = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return m
				}
				t.Data = append(t.Data, math.Float64frombits(v))
				packed = packed[m:]
			}
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	return t, err
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var s TrainingState

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case fieldGlobalStep:
				s.GlobalStep = v
			case fieldValidatedStep:
				s.ValidatedStep = int64(v)
			case fieldPosition:
				s.Position = v
			case fieldTotalSteps:
				s.TotalSteps = v
			}
			return n
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			f := math.Float64frombits(v)
			switch num {
			case fieldValidationLoss:
				s.ValidationLoss = f
			case fieldLearningRateFactor:
				s.LearningRateFactor = f
			case fieldSparsityFactor:
				s.SparsityFactor = f
			}
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	return s, err
}

func unmarshalOptimizerState(b []byte) (*OptimizerState, error) {
	s := &OptimizerState{Parameters: make(map[string]interface{})}
	var inner error

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}

		switch num {
		case fieldOptimizerType:
			s.Type = string(v)
		case fieldOptimizerStateData:
			t, err := unmarshalTensor(v)
			if err != nil {
				inner = err
				return n
			}
			s.StateData = append(s.StateData, t)
		case fieldOptimizerParameter:
			var key string
			var value float64
			if err := walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
				switch {
				case num == fieldParameterEntryKey && typ == protowire.BytesType:
					k, m := protowire.ConsumeString(b)
					key = k
					return m
				case num == fieldParameterEntryValue && typ == protowire.Fixed64Type:
					x, m := protowire.ConsumeFixed64(b)
					value = math.Float64frombits(x)
					return m
				default:
					return protowire.ConsumeFieldValue(num, typ, b)
				}
			}); err != nil {
				inner = err
				return n
			}
			s.Parameters[key] = value
		}
		return n
	})
	if err != nil {
		return nil, err
	}
	return s, inner
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var m CheckpointMetadata

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == fieldMetadataCreatedAt && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.CreatedAt = time.Unix(0, int64(v))
			return n
		}
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		v, n := protowire.ConsumeString(b)
		switch num {
		case fieldMetadataVersion:
			m.Version = v
		case fieldMetadataFramework:
			m.Framework = v
		case fieldMetadataDescription:
			m.Description = v
		case fieldMetadataTags:
			m.Tags = append(m.Tags, v)
		}
		return n
	})
	return m, err
}
