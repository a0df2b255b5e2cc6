package checkpoints

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the checkpoint message. Tensor fields follow the ONNX
// TensorProto numbering so the payload reads like a list of initializers.
const (
	fieldFramework protowire.Number = 1
	fieldVersion   protowire.Number = 2
	fieldCreatedAt protowire.Number = 3
	fieldState     protowire.Number = 4
	fieldWeight    protowire.Number = 5

	fieldStateEpoch   protowire.Number = 1
	fieldStateBest    protowire.Number = 2
	fieldStateCompute protowire.Number = 3

	fieldTensorDims      protowire.Number = 1
	fieldTensorFloatData protowire.Number = 4
	fieldTensorName      protowire.Number = 8
)

func marshalCheckpoint(c *Checkpoint) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFramework, protowire.BytesType)
	b = protowire.AppendString(b, c.Metadata.Framework)
	b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
	b = protowire.AppendString(b, c.Metadata.Version)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Metadata.CreatedAt.UnixNano()))

	b = protowire.AppendTag(b, fieldState, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalTrainingState(c.TrainingState))

	for i := range c.Weights {
		b = protowire.AppendTag(b, fieldWeight, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalWeight(&c.Weights[i]))
	}
	return b
}

func marshalTrainingState(s TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStateEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(s.Epoch)))
	b = protowire.AppendTag(b, fieldStateBest, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.BestAccuracy))
	b = protowire.AppendTag(b, fieldStateCompute, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Compute))
	return b
}

func marshalWeight(w *WeightTensor) []byte {
	var b []byte
	if len(w.Shape) > 0 {
		var dims []byte
		for _, d := range w.Shape {
			dims = protowire.AppendVarint(dims, uint64(int64(d)))
		}
		b = protowire.AppendTag(b, fieldTensorDims, protowire.BytesType)
		b = protowire.AppendBytes(b, dims)
	}
	if len(w.Data) > 0 {
		data := make([]byte, 0, 4*len(w.Data))
		for _, v := range w.Data {
			data = protowire.AppendFixed32(data, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, fieldTensorFloatData, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)
	return b
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	if len(b) == 0 {
		return nil, errors.New("empty checkpoint")
	}

	c := &Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldFramework && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Metadata.Framework = v
			b = b[n:]
		case num == fieldVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Metadata.Version = v
			b = b[n:]
		case num == fieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Metadata.CreatedAt = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldState && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			state, err := unmarshalTrainingState(v)
			if err != nil {
				return nil, fmt.Errorf("training state: %w", err)
			}
			c.TrainingState = state
			b = b[n:]
		case num == fieldWeight && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			w, err := unmarshalWeight(v)
			if err != nil {
				return nil, fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, w)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var s TrainingState
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldStateEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Epoch = int(int64(v))
			b = b[n:]
		case num == fieldStateBest && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.BestAccuracy = math.Float64frombits(v)
			b = b[n:]
		case num == fieldStateCompute && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Compute = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

func unmarshalWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return w, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldTensorDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return w, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				d, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return w, protowire.ParseError(m)
				}
				if int64(d) < 0 {
					return w, fmt.Errorf("negative dimension %d", int64(d))
				}
				w.Shape = append(w.Shape, int(int64(d)))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldTensorFloatData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return w, protowire.ParseError(n)
			}
			if len(packed)%4 != 0 {
				return w, fmt.Errorf("float data length %d is not a multiple of 4", len(packed))
			}
			w.Data = make([]float32, 0, len(packed)/4)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return w, protowire.ParseError(m)
				}
				w.Data = append(w.Data, math.Float32frombits(v))
				packed = packed[m:]
			}
			b = b[n:]
		case num == fieldTensorName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return w, protowire.ParseError(n)
			}
			w.Name = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return w, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return w, nil
}
