package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const badgerConflictRetries = 3

// BadgerConfig configures the embedded badger memo store.
type BadgerConfig struct {
	Dir string
	// RetainFor expires recorded results after the given duration. Zero keeps them forever.
	RetainFor time.Duration
	// InMemory runs badger without touching disk.
	InMemory bool
}

// BadgerStore is a MemoStore on an embedded badger database.
// Keys are "step/<runID>/<name>".
type BadgerStore struct {
	db        *badger.DB
	retainFor time.Duration
	logger    *slog.Logger
}

// OpenBadgerStore opens (or creates) the database in cfg.Dir.
func OpenBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open badger memo store at %s", cfg.Dir).WithCause(err)
	}
	return &BadgerStore{db: db, retainFor: cfg.RetainFor, logger: logger}, nil
}

// LoadStep implements MemoStore.
func (s *BadgerStore) LoadStep(_ context.Context, runID, name string) (xjson.RawMessage, bool, error) {
	var out xjson.RawMessage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(runID, name)))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeStore, "load step %s", name).WithCause(err)
	}
	return out, true, nil
}

// SaveStep implements MemoStore. Concurrent writers of the same key race on
// badger's optimistic transactions; the loser re-reads the winner.
func (s *BadgerStore) SaveStep(_ context.Context, runID, name string, output xjson.RawMessage) (xjson.RawMessage, error) {
	key := []byte(Key(runID, name))

	var winner xjson.RawMessage
	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			item, getErr := txn.Get(key)
			if getErr == nil {
				winner, getErr = item.ValueCopy(nil)
				return getErr
			}
			if !errors.Is(getErr, badger.ErrKeyNotFound) {
				return getErr
			}
			entry := badger.NewEntry(key, output)
			if s.retainFor > 0 {
				entry = entry.WithTTL(s.retainFor)
			}
			winner = output
			return txn.SetEntry(entry)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug("step save conflict, retrying", slog.String("step", name), slog.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save step %s", name).WithCause(err)
	}
	return winner, nil
}

// DeleteRun removes every recorded step of runID.
func (s *BadgerStore) DeleteRun(_ context.Context, runID string) error {
	prefix := []byte("step/" + runID + "/")
	return s.db.DropPrefix(prefix)
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

var _ MemoStore = (*BadgerStore)(nil)
