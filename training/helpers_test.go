package training

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samuelsimko/scaling-mlps/checkpoints"
	"github.com/samuelsimko/scaling-mlps/tensor"
)

// indexDataset yields samples [label, index] with label = index % classes.
type indexDataset struct {
	n       int
	classes int
	failAt  int
}

func newIndexDataset(n, classes int) *indexDataset {
	return &indexDataset{n: n, classes: classes, failAt: -1}
}

func (d *indexDataset) Len() int { return d.n }

func (d *indexDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	if idx == d.failAt {
		return nil, 0, errors.New("unreadable sample")
	}
	label := int32(idx % d.classes)
	t, err := tensor.NewTensor([]int{2}, []float32{float32(label), float32(idx)})
	return t, label, err
}

// scriptedModel reads the label and sample index from its input. In
// training mode every sample is classified correctly; the i-th evaluation
// pass classifies samples with index below correct[i] correctly.
type scriptedModel struct {
	classes int
	correct []int

	weight    *tensor.Tensor
	training  bool
	evalCalls int

	forwards  int
	backwards int
	failOn    int
}

func newScriptedModel(classes int, correct ...int) *scriptedModel {
	w, _ := tensor.NewTensor([]int{1}, []float32{0})
	w.SetRequiresGrad(true)
	return &scriptedModel{classes: classes, correct: correct, weight: w, failOn: -1}
}

func (m *scriptedModel) FLOPsPerSample(resolution int) (int64, error) {
	return 10, nil
}

func (m *scriptedModel) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	m.forwards++
	if m.forwards == m.failOn {
		return nil, errors.New("scripted failure")
	}
	if len(input.Shape) != 2 || input.Shape[1] != 2 {
		return nil, fmt.Errorf("unexpected input shape %v", input.Shape)
	}
	batch := input.Shape[0]
	out, err := tensor.Zeros([]int{batch, m.classes})
	if err != nil {
		return nil, err
	}
	limit := -1
	if !m.training && m.evalCalls > 0 && m.evalCalls <= len(m.correct) {
		limit = m.correct[m.evalCalls-1]
	}
	for i := 0; i < batch; i++ {
		row := input.Row(i)
		label, idx := int(row[0]), int(row[1])
		predicted := label
		if limit >= 0 && idx >= limit {
			predicted = (label + 1) % m.classes
		}
		out.Data[i*m.classes+predicted] = 4
	}
	return out, nil
}

func (m *scriptedModel) Backward(gradOutput *tensor.Tensor) error {
	m.backwards++
	var sum float32
	for _, v := range gradOutput.Data {
		sum += v
	}
	return m.weight.AccumulateGrad([]float32{sum + 1})
}

func (m *scriptedModel) Parameters() []*tensor.Tensor { return []*tensor.Tensor{m.weight} }

func (m *scriptedModel) Train() { m.training = true }

func (m *scriptedModel) Eval() {
	m.training = false
	m.evalCalls++
}

func (m *scriptedModel) Snapshot() checkpoints.ParameterState {
	return checkpoints.ParameterState{Tensors: []checkpoints.WeightTensor{{
		Name:  "weight",
		Shape: []int{1},
		Data:  append([]float32(nil), m.weight.Data...),
	}}}
}

func (m *scriptedModel) Restore(state checkpoints.ParameterState) error {
	if len(state.Tensors) != 1 || len(state.Tensors[0].Data) != 1 {
		return errors.New("state does not match")
	}
	copy(m.weight.Data, state.Tensors[0].Data)
	return nil
}

// recordingSink keeps every logged metric map.
type recordingSink struct {
	mu     sync.Mutex
	epochs []int
	logs   []map[string]float64
	err    error
}

func (s *recordingSink) Log(ctx context.Context, epoch int, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs = append(s.epochs, epoch)
	s.logs = append(s.logs, metrics)
	return s.err
}

// countingScheduler records Step calls.
type countingScheduler struct {
	steps int
}

func (s *countingScheduler) Step()           { s.steps++ }
func (s *countingScheduler) LastLR() float64 { return 0 }

// sliceStream replays fixed batches.
type sliceStream struct {
	batches []*Batch
	pos     int
	err     error
	errAt   int
}

func (s *sliceStream) Reset() { s.pos = 0 }
func (s *sliceStream) Len() int {
	return len(s.batches)
}

func (s *sliceStream) Next() (*Batch, error) {
	if s.err != nil && s.pos == s.errAt {
		s.pos++
		return nil, s.err
	}
	if s.pos >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func mustTensor(shape []int, data []float32) *tensor.Tensor {
	t, err := tensor.NewTensor(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}
