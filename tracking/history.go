package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samuelsimko/scaling-mlps/training"
)

const (
	runPrefix   = "run/"
	epochPrefix = "epoch/"
)

// HistoryConfig configures the local run history store.
type HistoryConfig struct {
	Path     string // database directory, ignored when InMemory
	InMemory bool
}

// RunRecord is the stored summary of a run.
type RunRecord struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Project      string             `json:"project"`
	Entity       string             `json:"entity,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Started      time.Time          `json:"started"`
	Updated      time.Time          `json:"updated"`
	LastEpoch    int                `json:"last_epoch"`
	BestAccuracy float64            `json:"best_accuracy"`
	Latest       map[string]float64 `json:"latest,omitempty"`
	Config       []byte             `json:"config,omitempty"`
}

// EpochRecord is the metrics of one Log call.
type EpochRecord struct {
	Epoch   int                `json:"epoch"`
	Time    time.Time          `json:"time"`
	Metrics map[string]float64 `json:"metrics"`
}

// HistorySink persists runs and their epoch metrics in BadgerDB.
type HistorySink struct {
	db     *badger.DB
	logger *slog.Logger

	mu  sync.Mutex
	run *RunRecord
}

// OpenHistory opens or creates the store.
func OpenHistory(cfg HistoryConfig, logger *slog.Logger) (*HistorySink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, &SinkError{Backend: "history", Err: errors.New("path is required for a persistent store")}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, &SinkError{Backend: "history", Err: fmt.Errorf("create directory %s: %w", cfg.Path, err)}
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &SinkError{Backend: "history", Err: fmt.Errorf("open badger database: %w", err)}
	}
	return &HistorySink{db: db, logger: logger}, nil
}

// Begin records the start of run. Later Log calls attach to it.
func (h *HistorySink) Begin(run Run) error {
	rec := &RunRecord{
		ID:           run.ID,
		Name:         run.Name,
		Project:      run.Project,
		Entity:       run.Entity,
		Tags:         run.Tags,
		Started:      run.Started,
		Updated:      run.Started,
		BestAccuracy: -1,
		Config:       run.Config,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, runPrefix+rec.ID, rec)
	}); err != nil {
		return &SinkError{Backend: "history", Err: err}
	}
	h.run = rec
	return nil
}

// Log stores the epoch record and refreshes the run summary.
func (h *HistorySink) Log(_ context.Context, epoch int, metrics map[string]float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run == nil {
		return &SinkError{Backend: "history", Err: errors.New("no run started")}
	}

	now := time.Now().UTC()
	copied := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}

	rec := *h.run
	rec.Updated = now
	rec.LastEpoch = epoch
	rec.Latest = copied
	if acc, ok := metrics[training.MetricTestAccuracy]; ok && acc > rec.BestAccuracy {
		rec.BestAccuracy = acc
	}

	err := h.db.Update(func(txn *badger.Txn) error {
		key := fmt.Sprintf("%s%s/%08d", epochPrefix, rec.ID, epoch)
		if err := putJSON(txn, key, EpochRecord{Epoch: epoch, Time: now, Metrics: copied}); err != nil {
			return err
		}
		return putJSON(txn, runPrefix+rec.ID, &rec)
	})
	if err != nil {
		return &SinkError{Backend: "history", Err: err}
	}
	h.run = &rec
	return nil
}

// Runs returns every stored run, newest first.
func (h *HistorySink) Runs() ([]RunRecord, error) {
	var runs []RunRecord
	err := h.db.View(func(txn *badger.Txn) error {
		return scan(txn, runPrefix, func(v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			runs = append(runs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, &SinkError{Backend: "history", Err: err}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

// Epochs returns the epoch records of a run in epoch order.
func (h *HistorySink) Epochs(runID string) ([]EpochRecord, error) {
	var epochs []EpochRecord
	err := h.db.View(func(txn *badger.Txn) error {
		return scan(txn, epochPrefix+runID+"/", func(v []byte) error {
			var rec EpochRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			epochs = append(epochs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, &SinkError{Backend: "history", Err: err}
	}
	return epochs, nil
}

func (h *HistorySink) Close() error {
	if err := h.db.Close(); err != nil {
		return &SinkError{Backend: "history", Err: err}
	}
	return nil
}

func putJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// scan calls fn with the value of every key under prefix, in key order.
func scan(txn *badger.Txn, prefix string, fn func([]byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof is demoted to debug; badger reports compaction progress at info.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
