package checkpoints

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// SnapshotFile holds the human-readable configuration of a run.
const SnapshotFile = "config.yaml"

// OptimalFile holds the best-performing parameters of a run.
const OptimalFile = "optimal_params"

// Manager owns the per-experiment checkpoint directory: creating it,
// writing parameter files and tracking the best accuracy seen.
type Manager struct {
	root   string
	saver  *CheckpointSaver
	logger *slog.Logger
}

// NewManager returns a Manager rooted at root.
func NewManager(root string, format CheckpointFormat, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:   root,
		saver:  NewCheckpointSaver(format),
		logger: logger,
	}
}

// Root returns the directory all experiments live under.
func (m *Manager) Root() string {
	return m.root
}

// EnsureDirectory creates <root>/<identity> if needed. The snapshot is
// written only when no config.yaml exists yet, so an existing run keeps
// its original record.
func (m *Manager) EnsureDirectory(identity string, snapshot []byte) (string, bool, error) {
	if identity == "" {
		return "", false, fmt.Errorf("empty experiment identity")
	}
	dir := filepath.Join(m.root, identity)

	snapshotPath := filepath.Join(dir, SnapshotFile)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		if _, err := os.Stat(snapshotPath); os.IsNotExist(err) {
			if err := writeAtomic(snapshotPath, snapshot); err != nil {
				return "", false, fmt.Errorf("write configuration snapshot: %w", err)
			}
			m.logger.Warn("restored missing configuration snapshot", "path", snapshotPath)
		}
		return dir, false, nil
	case err == nil:
		return "", false, fmt.Errorf("experiment path %s exists and is not a directory", dir)
	case !os.IsNotExist(err):
		return "", false, fmt.Errorf("stat experiment directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create experiment directory: %w", err)
	}
	if err := writeAtomic(snapshotPath, snapshot); err != nil {
		os.RemoveAll(dir)
		return "", false, fmt.Errorf("write configuration snapshot: %w", err)
	}
	m.logger.Info("created experiment directory", "path", dir)
	return dir, true, nil
}

// Save writes state and progress to path, replacing any previous file.
func (m *Manager) Save(state ParameterState, path string, progress TrainingState) error {
	return m.saver.SaveCheckpoint(NewCheckpoint(state, progress), path)
}

// Load reads the parameters stored at path. Missing files wrap
// ErrCheckpointNotFound; undecodable files are *CorruptCheckpointError.
func (m *Manager) Load(path string) (ParameterState, TrainingState, error) {
	checkpoint, err := m.saver.LoadCheckpoint(path)
	if err != nil {
		return ParameterState{}, TrainingState{}, err
	}
	return checkpoint.Parameters(), checkpoint.TrainingState, nil
}

// UpdateBest reports whether current strictly improves on best.
func (m *Manager) UpdateBest(current, best float64) bool {
	return current > best
}

// EpochPath is the periodic checkpoint file for epoch.
func EpochPath(dir string, epoch int, compute float64) string {
	return filepath.Join(dir, fmt.Sprintf("epoch_%d_compute_%.6g", epoch, compute))
}

// OptimalPath is the best-parameters file inside dir.
func OptimalPath(dir string) string {
	return filepath.Join(dir, OptimalFile)
}
