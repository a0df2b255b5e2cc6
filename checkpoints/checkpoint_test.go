package checkpoints

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samuelsimko/scaling-mlps/config"
)

func testState() ParameterState {
	w := WeightTensor{Name: "input.weight", Shape: []int{4, 3}, Data: make([]float32, 12)}
	for i := range w.Data {
		w.Data[i] = float32(i)*0.37 - 1.5
	}
	// Values that do not survive a decimal round trip.
	w.Data[0] = math.SmallestNonzeroFloat32
	w.Data[1] = math.MaxFloat32
	w.Data[2] = float32(math.Inf(-1))
	w.Data[3] = -0.0

	b := WeightTensor{Name: "input.bias", Shape: []int{3}, Data: []float32{0.1, 0.2, 0.3}}
	return ParameterState{Tensors: []WeightTensor{w, b}}
}

func TestCheckpointRoundTripBitExact(t *testing.T) {
	tests := []struct {
		name   string
		format CheckpointFormat
	}{
		{"protobuf", FormatProtobuf},
		{"json", FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := testState()
			if tt.format == FormatJSON {
				// JSON cannot carry infinities.
				state.Tensors[0].Data[2] = -3
			}
			progress := TrainingState{Epoch: 7, BestAccuracy: 91.25, Compute: 1.5e12}

			m := NewManager(t.TempDir(), tt.format, nil)
			path := filepath.Join(m.Root(), "ckpt")
			if err := m.Save(state, path, progress); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, gotProgress, err := m.Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if gotProgress != progress {
				t.Errorf("progress mismatch: expected %+v, got %+v", progress, gotProgress)
			}
			if len(loaded.Tensors) != len(state.Tensors) {
				t.Fatalf("tensor count mismatch: expected %d, got %d", len(state.Tensors), len(loaded.Tensors))
			}
			for i, want := range state.Tensors {
				got := loaded.Tensors[i]
				if got.Name != want.Name {
					t.Errorf("tensor %d name: expected %s, got %s", i, want.Name, got.Name)
				}
				if len(got.Shape) != len(want.Shape) {
					t.Fatalf("tensor %s shape: expected %v, got %v", want.Name, want.Shape, got.Shape)
				}
				for j := range want.Shape {
					if got.Shape[j] != want.Shape[j] {
						t.Errorf("tensor %s shape: expected %v, got %v", want.Name, want.Shape, got.Shape)
					}
				}
				if len(got.Data) != len(want.Data) {
					t.Fatalf("tensor %s data length: expected %d, got %d", want.Name, len(want.Data), len(got.Data))
				}
				for j := range want.Data {
					if math.Float32bits(got.Data[j]) != math.Float32bits(want.Data[j]) {
						t.Errorf("tensor %s value %d: expected bits %08x, got %08x",
							want.Name, j, math.Float32bits(want.Data[j]), math.Float32bits(got.Data[j]))
					}
				}
			}
		})
	}
}

func TestSaveOverwrites(t *testing.T) {
	m := NewManager(t.TempDir(), FormatProtobuf, nil)
	path := OptimalPath(m.Root())

	first := testState()
	if err := m.Save(first, path, TrainingState{Epoch: 1}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second := testState()
	second.Tensors[1].Data = []float32{9, 8, 7}
	if err := m.Save(second, path, TrainingState{Epoch: 2}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, progress, err := m.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if progress.Epoch != 2 {
		t.Errorf("expected epoch 2, got %d", progress.Epoch)
	}
	if loaded.Tensors[1].Data[0] != 9 {
		t.Errorf("expected overwritten bias, got %v", loaded.Tensors[1].Data)
	}

	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the checkpoint file, found %d entries", len(entries))
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	m := NewManager(t.TempDir(), FormatProtobuf, nil)
	_, _, err := m.Load(OptimalPath(m.Root()))
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated varint", []byte{0x0a, 0xff}},
		{"foreign framework", marshalCheckpoint(&Checkpoint{Metadata: CheckpointMetadata{Framework: "torch"}})},
		{"broken json", []byte(`{"weights": [`)},
		{"shape mismatch", marshalCheckpoint(&Checkpoint{
			Metadata: CheckpointMetadata{Framework: Framework},
			Weights:  []WeightTensor{{Name: "w", Shape: []int{2, 2}, Data: []float32{1}}},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "optimal_params")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := NewCheckpointSaver(FormatProtobuf).LoadCheckpoint(path)
			var corrupt *CorruptCheckpointError
			if !errors.As(err, &corrupt) {
				t.Fatalf("expected CorruptCheckpointError, got %v", err)
			}
			if corrupt.Path != path {
				t.Errorf("expected path %s, got %s", path, corrupt.Path)
			}
		})
	}
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), FormatProtobuf, nil)

	dir, created, err := m.EnsureDirectory("exp", []byte("lr: 0.1\n"))
	if err != nil {
		t.Fatalf("EnsureDirectory failed: %v", err)
	}
	if !created {
		t.Errorf("expected directory to be created")
	}
	snapshot, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if string(snapshot) != "lr: 0.1\n" {
		t.Errorf("unexpected snapshot %q", snapshot)
	}

	again, created, err := m.EnsureDirectory("exp", []byte("lr: 0.2\n"))
	if err != nil {
		t.Fatalf("second EnsureDirectory failed: %v", err)
	}
	if created || again != dir {
		t.Errorf("expected existing directory %s, got %s (created=%v)", dir, again, created)
	}
	snapshot, _ = os.ReadFile(filepath.Join(dir, SnapshotFile))
	if string(snapshot) != "lr: 0.1\n" {
		t.Errorf("snapshot was rewritten: %q", snapshot)
	}
}

func TestEnsureDirectoryRestoresMissingSnapshot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "exp"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	m := NewManager(root, FormatProtobuf, nil)

	dir, created, err := m.EnsureDirectory("exp", []byte("lr: 0.3\n"))
	if err != nil {
		t.Fatalf("EnsureDirectory failed: %v", err)
	}
	if created {
		t.Errorf("existing directory reported as created")
	}
	snapshot, err := os.ReadFile(filepath.Join(dir, SnapshotFile))
	if err != nil {
		t.Fatalf("snapshot not restored: %v", err)
	}
	if string(snapshot) != "lr: 0.3\n" {
		t.Errorf("unexpected snapshot %q", snapshot)
	}
}

func TestEnsureDirectoryRejectsFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "exp"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m := NewManager(root, FormatProtobuf, nil)
	if _, _, err := m.EnsureDirectory("exp", nil); err == nil {
		t.Fatalf("expected error when identity path is a file")
	}
}

func TestUpdateBest(t *testing.T) {
	m := NewManager(t.TempDir(), FormatProtobuf, nil)
	tests := []struct {
		current, best float64
		expected      bool
	}{
		{0.91, 0.90, true},
		{0.85, 0.90, false},
		{0.90, 0.90, false},
		{0.0, -1, true},
	}
	for _, tt := range tests {
		if got := m.UpdateBest(tt.current, tt.best); got != tt.expected {
			t.Errorf("UpdateBest(%v, %v) = %v, expected %v", tt.current, tt.best, got, tt.expected)
		}
	}
}

func TestPaths(t *testing.T) {
	if got := EpochPath("run", 3, 1.5e9); got != filepath.Join("run", "epoch_3_compute_1.5e+09") {
		t.Errorf("unexpected epoch path %s", got)
	}
	if got := OptimalPath("run"); got != filepath.Join("run", "optimal_params") {
		t.Errorf("unexpected optimal path %s", got)
	}
}

func TestDeriveIdentity(t *testing.T) {
	cfg := config.Default()

	first, err := DeriveIdentity(&cfg)
	if err != nil {
		t.Fatalf("DeriveIdentity failed: %v", err)
	}
	second, _ := DeriveIdentity(&cfg)
	if first != second {
		t.Errorf("identity is not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "BottleneckMLP_B_6-Wi_1024_imagenet21_res_64_bs_4096_lion_lr_5e-05_wd_0_ep_500_") {
		t.Errorf("unexpected identity prefix: %s", first)
	}

	changed := cfg
	changed.LR = 0.0001
	other, _ := DeriveIdentity(&changed)
	if other == first {
		t.Errorf("changing lr did not change identity")
	}

	changed = cfg
	changed.Mixup = 0.5
	other, _ = DeriveIdentity(&changed)
	if other == first {
		t.Errorf("changing mixup did not change identity")
	}

	neutral := cfg
	neutral.CheckpointFolder = "/elsewhere"
	neutral.Logging.Level = "debug"
	neutral.Tracking.Project = "other"
	neutral.Progress = false
	same, _ := DeriveIdentity(&neutral)
	if same != first {
		t.Errorf("output-only fields changed identity: %s vs %s", same, first)
	}
}
