package checkpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Framework identifies files written by this package. Files carrying any
// other framework name are rejected on load.
const Framework = "scaling-mlps"

// FormatVersion is stamped into every checkpoint.
const FormatVersion = "1"

// ErrCheckpointNotFound is returned when a checkpoint file does not exist.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CorruptCheckpointError reports a checkpoint file that exists but cannot
// be decoded.
type CorruptCheckpointError struct {
	Path string
	Err  error
}

func (e *CorruptCheckpointError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CorruptCheckpointError) Unwrap() error {
	return e.Err
}

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProtobuf CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProtobuf:
		return "protobuf"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat maps a configuration value onto a CheckpointFormat.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "protobuf", "":
		return FormatProtobuf, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported checkpoint format: %q", s)
	}
}

// WeightTensor is one named parameter tensor.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ParameterState is the full set of model parameters.
type ParameterState struct {
	Tensors []WeightTensor `json:"tensors"`
}

// NumElements returns the total number of scalars across all tensors.
func (p ParameterState) NumElements() int {
	n := 0
	for _, t := range p.Tensors {
		n += len(t.Data)
	}
	return n
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestAccuracy float64 `json:"best_accuracy"`
	Compute      float64 `json:"compute"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is the on-disk record: parameters, progress and metadata.
type Checkpoint struct {
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// NewCheckpoint stamps state and progress with the current metadata.
func NewCheckpoint(state ParameterState, progress TrainingState) *Checkpoint {
	return &Checkpoint{
		Weights:       state.Tensors,
		TrainingState: progress,
		Metadata: CheckpointMetadata{
			Version:   FormatVersion,
			Framework: Framework,
			CreatedAt: time.Now(),
		},
	}
}

// Parameters returns the weights as a ParameterState.
func (c *Checkpoint) Parameters() ParameterState {
	return ParameterState{Tensors: c.Weights}
}

// CheckpointSaver reads and writes checkpoints in one encoding
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the encoding used for writes.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path atomically. An existing file is
// replaced only once the new contents are fully on disk.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	var data []byte
	switch cs.format {
	case FormatProtobuf:
		data = marshalCheckpoint(checkpoint)
	case FormatJSON:
		var err error
		data, err = json.Marshal(checkpoint)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written in either encoding.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	var checkpoint *Checkpoint
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		checkpoint = &Checkpoint{}
		if err := json.Unmarshal(data, checkpoint); err != nil {
			return nil, &CorruptCheckpointError{Path: path, Err: err}
		}
	} else {
		checkpoint, err = unmarshalCheckpoint(data)
		if err != nil {
			return nil, &CorruptCheckpointError{Path: path, Err: err}
		}
	}

	if checkpoint.Metadata.Framework != Framework {
		return nil, &CorruptCheckpointError{
			Path: path,
			Err:  fmt.Errorf("unexpected framework %q", checkpoint.Metadata.Framework),
		}
	}
	for _, w := range checkpoint.Weights {
		if n := shapeElements(w.Shape); n != len(w.Data) {
			return nil, &CorruptCheckpointError{
				Path: path,
				Err:  fmt.Errorf("tensor %s: shape %v holds %d values, found %d", w.Name, w.Shape, n, len(w.Data)),
			}
		}
	}
	return checkpoint, nil
}

func shapeElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// writeAtomic writes to a temp file in the destination directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
