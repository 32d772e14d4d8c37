package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/storage"
)

const (
	defaultSequenceBandwidth = 100
)

// Backend wraps a BadgerDB instance and provides low-level operations.
// It also owns the collection handles opened on it, one per name.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*Collection
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool) (*Backend, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Ensure directory exists
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
				}
			} else {
				return nil, fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", storage.ErrStoreUnavailable, filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}

	return &Backend{
		db:          db,
		logger:      logger,
		collections: make(map[string]*Collection),
	}, nil
}

// Close releases every collection handle and closes the BadgerDB database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db.IsClosed() {
		return nil
	}
	var errs []error
	for name, c := range b.collections {
		if err := c.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing sequence of %s: %w", name, err))
		}
		delete(b.collections, name)
	}
	errs = append(errs, b.db.Close())
	return errors.Join(errs...)
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
// Closed databases and blocked writes are reported as storage.ErrStoreUnavailable.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStoreUnavailable
	}
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return mapError(fn(tx))
}

// GetSequence returns a BadgerDB sequence for generating sequential IDs.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}

// Collection returns the handle for the named collection, creating the
// collection on first use. Subsequent calls with the same name return the
// same handle and ignore embedder and opts.
func (b *Backend) Collection(ctx context.Context, name string, embedder ai.Embedder, opts ...CollectionOption) (*Collection, error) {
	if !validCollectionName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidCollectionName, name)
	}
	if embedder == nil {
		return nil, storage.ErrEmbedderRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	if b.db.IsClosed() {
		return nil, storage.ErrStoreUnavailable
	}

	c, err := newCollection(b, name, embedder, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	seq, err := b.GetSequence(makeSeqKey(name))
	if err != nil {
		return nil, mapError(err)
	}
	c.seq = seq
	b.collections[name] = c
	return c, nil
}

// Collections lists the names of all collections stored in the database.
func (b *Backend) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := b.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionMetaPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			names = append(names, collectionNameFromMetaKey(iter.Item().Key()))
		}
		return nil
	}, false)
	return names, err
}

func (b *Backend) dropPrefix(prefix []byte) error {
	if b.db.IsClosed() {
		return storage.ErrStoreUnavailable
	}
	return mapError(b.db.DropPrefix(prefix))
}

func (b *Backend) newWriteBatch() *badger.WriteBatch {
	return b.db.NewWriteBatch()
}

// mapError translates badger failures that mean the store cannot be used.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites) {
		return fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	return err
}
