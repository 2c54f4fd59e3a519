// Package tracestore persists posterior traces in BadgerDB.
//
// Keys are laid out per run so a single prefix scan recovers one chain in
// draw order:
//
//	run/<id>/meta                          RunInfo and MAP result (JSON)
//	run/<id>/chain/<cccc>/draw/<dddddddd>  one Sample (JSON)
package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/alexshd/commitfit"
)

// ErrNotFound is returned when a run ID has no stored trace.
var ErrNotFound = errors.New("run not found")

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. If nil they are dropped.
	Logger *slog.Logger
}

// RunInfo describes one stored run.
type RunInfo struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Source    string            `json:"source,omitempty"` // Input file, if any
	NumStates int               `json:"num_states"`
	Chains    int               `json:"chains"`
	Draws     int               `json:"draws"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type runMeta struct {
	Info       RunInfo              `json:"info"`
	MAP        commitfit.MAPResult  `json:"map"`
	Seeds      []uint64             `json:"seeds"`
	Acceptance []map[string]float64 `json:"acceptance"`
}

// Store is a BadgerDB-backed trace store. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens a store at cfg.Path, or in memory, creating the directory if
// needed. The caller must Close it.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent trace store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create trace store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func metaKey(id string) []byte {
	return []byte("run/" + id + "/meta")
}

func chainPrefix(id string, chain int) []byte {
	return []byte(fmt.Sprintf("run/%s/chain/%04d/draw/", id, chain))
}

func drawKey(id string, chain, draw int) []byte {
	return append(chainPrefix(id, chain), fmt.Sprintf("%08d", draw)...)
}

// Save writes tr under info.ID. Empty ID and zero CreatedAt are filled in;
// the completed RunInfo is returned.
func (s *Store) Save(ctx context.Context, info RunInfo, tr *commitfit.Trace) (RunInfo, error) {
	if tr == nil {
		return RunInfo{}, errors.New("nil trace")
	}
	if info.ID == "" {
		info.ID = NewRunID()
	}
	if strings.Contains(info.ID, "/") {
		return RunInfo{}, fmt.Errorf("run ID %q must not contain '/'", info.ID)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	info.NumStates = tr.NumStates
	info.Chains = len(tr.Chains)
	info.Draws = tr.Draws()

	meta := runMeta{Info: info, MAP: tr.MAP}
	for _, ch := range tr.Chains {
		meta.Seeds = append(meta.Seeds, ch.Seed)
		meta.Acceptance = append(meta.Acceptance, ch.Acceptance)
	}
	metaVal, err := json.Marshal(meta)
	if err != nil {
		return RunInfo{}, fmt.Errorf("encode run metadata: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for c, ch := range tr.Chains {
		if err := ctx.Err(); err != nil {
			return RunInfo{}, err
		}
		for d := range ch.Samples {
			val, err := json.Marshal(&ch.Samples[d])
			if err != nil {
				return RunInfo{}, fmt.Errorf("encode chain %d draw %d: %w", c, d, err)
			}
			if err := wb.Set(drawKey(info.ID, c, d), val); err != nil {
				return RunInfo{}, fmt.Errorf("write chain %d draw %d: %w", c, d, err)
			}
		}
	}
	// Metadata goes last, so a run is only listed once its draws are written.
	if err := wb.Set(metaKey(info.ID), metaVal); err != nil {
		return RunInfo{}, fmt.Errorf("write run metadata: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return RunInfo{}, fmt.Errorf("flush trace: %w", err)
	}

	s.logger.Info("trace stored",
		slog.String("run", info.ID),
		slog.Int("chains", info.Chains),
		slog.Int("draws", info.Draws))
	return info, nil
}

// Load reads the run stored under id.
func (s *Store) Load(ctx context.Context, id string) (RunInfo, *commitfit.Trace, error) {
	var meta runMeta
	tr := &commitfit.Trace{}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return fmt.Errorf("decode run metadata: %w", err)
		}

		tr.NumStates = meta.Info.NumStates
		tr.MAP = meta.MAP
		tr.Chains = make([]commitfit.ChainTrace, meta.Info.Chains)
		for c := range tr.Chains {
			if err := ctx.Err(); err != nil {
				return err
			}
			ch := commitfit.ChainTrace{
				Chain:   c,
				Samples: make([]commitfit.Sample, 0, meta.Info.Draws),
			}
			if c < len(meta.Seeds) {
				ch.Seed = meta.Seeds[c]
			}
			if c < len(meta.Acceptance) {
				ch.Acceptance = meta.Acceptance[c]
			}

			prefix := chainPrefix(id, c)
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var sample commitfit.Sample
				item := it.Item()
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &sample)
				}); err != nil {
					key := item.KeyCopy(nil)
					it.Close()
					return fmt.Errorf("decode %s: %w", key, err)
				}
				ch.Samples = append(ch.Samples, sample)
			}
			it.Close()

			if len(ch.Samples) != meta.Info.Draws {
				return fmt.Errorf("chain %d: found %d draws, want %d", c, len(ch.Samples), meta.Info.Draws)
			}
			tr.Chains[c] = ch
		}
		return nil
	})
	if err != nil {
		return RunInfo{}, nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return meta.Info, tr, nil
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	var runs []RunInfo
	prefix := []byte("run/")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if !strings.HasSuffix(string(item.Key()), "/meta") {
				continue
			}
			var meta runMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			runs = append(runs, meta.Info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	slices.SortStableFunc(runs, func(a, b RunInfo) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return runs, nil
}

// Delete removes every key of run id. Deleting an unknown run is a no-op.
func (s *Store) Delete(id string) error {
	prefix := []byte("run/" + id + "/")

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}
