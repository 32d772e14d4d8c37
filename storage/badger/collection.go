package badger

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
)

const (
	defaultDescription  = "News articles collection"
	defaultEmbedRetries = 3
	defaultEmbedBackoff = 200 * time.Millisecond
	maxConflictAttempts = 5
	defaultForEachBatch = 100
)

// Collection implements storage.Collection on BadgerDB. Query is a brute
// force scan over every stored vector.
type Collection struct {
	backend  *Backend
	name     string
	embedder ai.Embedder
	seq      *badger.Sequence
	logger   *slog.Logger

	metric       storage.Metric
	description  string
	embedRetries int
	embedBackoff time.Duration
}

var _ storage.Collection = (*Collection)(nil)

// CollectionOption configures a Collection.
type CollectionOption func(*Collection) error

// WithMetric sets the distance metric used when the collection is created.
// An existing collection keeps the metric it was created with.
func WithMetric(metric storage.Metric) CollectionOption {
	return func(c *Collection) error {
		m, err := storage.ParseMetric(string(metric))
		if err != nil {
			return err
		}
		c.metric = m
		return nil
	}
}

// WithDescription sets the description recorded when the collection is created.
func WithDescription(description string) CollectionOption {
	return func(c *Collection) error {
		c.description = description
		return nil
	}
}

// WithEmbedRetries sets how often a single record's embedding is retried
// after a failed batch, and the initial backoff between attempts.
func WithEmbedRetries(retries int, backoff time.Duration) CollectionOption {
	return func(c *Collection) error {
		if retries < 0 {
			return fmt.Errorf("embed retries must not be negative, got %d", retries)
		}
		c.embedRetries = retries
		c.embedBackoff = backoff
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) CollectionOption {
	return func(c *Collection) error {
		c.logger = logger
		return nil
	}
}

func newCollection(backend *Backend, name string, embedder ai.Embedder, opts ...CollectionOption) (*Collection, error) {
	c := &Collection{
		backend:      backend,
		name:         name,
		embedder:     embedder,
		metric:       storage.MetricL2,
		description:  defaultDescription,
		embedRetries: defaultEmbedRetries,
		embedBackoff: defaultEmbedBackoff,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "collection", "collection", name)
	return c, nil
}

// ensure creates the collection info record if it does not exist yet and
// adopts the stored metric otherwise. Concurrent creators converge on the
// first committed info.
func (c *Collection) ensure(ctx context.Context) error {
	key := makeCollectionMetaKey(c.name)
	for attempt := 0; ; attempt++ {
		var info *storage.CollectionInfo
		created := false
		err := c.backend.WithTx(func(tx *badger.Txn) error {
			item, err := tx.Get(key)
			if err == nil {
				return item.Value(func(val []byte) error {
					info, err = storage.UnmarshalCollectionInfo(val)
					return err
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			info = &storage.CollectionInfo{
				Name:        c.name,
				Description: c.description,
				Metric:      c.metric,
				CreatedAt:   time.Now().UTC(),
			}
			data, err := storage.MarshalCollectionInfo(info)
			if err != nil {
				return err
			}
			if err := tx.Set(key, data); err != nil {
				return err
			}
			created = true
			return tx.Commit()
		}, true)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictAttempts {
			continue
		}
		if err != nil {
			return err
		}

		if created {
			c.logger.Info("created collection", "metric", info.Metric)
		} else if info.Metric != c.metric {
			c.logger.Warn("collection exists with a different metric, using stored metric",
				"stored", info.Metric, "requested", c.metric)
		}
		c.metric = info.Metric
		c.description = info.Description
		return nil
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Info returns the stored description of the collection.
func (c *Collection) Info(ctx context.Context) (*storage.CollectionInfo, error) {
	var info *storage.CollectionInfo
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCollectionMetaKey(c.name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info, err = storage.UnmarshalCollectionInfo(val)
			return err
		})
	}, false)
	return info, err
}

// Upsert embeds and writes records.
func (c *Collection) Upsert(ctx context.Context, records ...*core.ChunkRecord) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	valid := c.validate(records, result)
	if len(valid) == 0 {
		return result, nil
	}

	embedded, vectors, err := c.embed(ctx, valid, result)
	if err != nil {
		return result, err
	}
	if err := c.write(ctx, embedded, vectors, ""); err != nil {
		return result, err
	}
	result.Written = len(embedded)
	return result, nil
}

// UpsertEmbedded writes records with precomputed vectors.
func (c *Collection) UpsertEmbedded(ctx context.Context, records []*core.ChunkRecord, vectors [][]float32) (*storage.UpsertResult, error) {
	if len(records) != len(vectors) {
		return nil, fmt.Errorf("%w: %d records but %d vectors", storage.ErrInvalidQuery, len(records), len(vectors))
	}
	result := &storage.UpsertResult{}
	byID := make(map[string][]float32, len(records))
	for i, r := range records {
		if r != nil {
			byID[r.ID] = vectors[i]
		}
	}
	valid := c.validate(records, result)
	var (
		ok   []*core.ChunkRecord
		vecs [][]float32
	)
	for _, r := range valid {
		if len(byID[r.ID]) == 0 {
			result.Failed = append(result.Failed, core.RecordError{ID: r.ID, Err: fmt.Errorf("%w: empty vector", core.ErrEmbedding)})
			continue
		}
		ok = append(ok, r)
		vecs = append(vecs, byID[r.ID])
	}
	if len(ok) == 0 {
		return result, nil
	}
	if err := c.write(ctx, ok, vecs, ""); err != nil {
		return result, err
	}
	result.Written = len(ok)
	return result, nil
}

// ReplaceFamily writes records as the chunk family of parentURL. Records
// that fail validation or embedding are reported in the result and the rest
// are written, with every other stored chunk of parentURL removed in the same
// transaction. When no record can be written the stored family is left as is.
func (c *Collection) ReplaceFamily(ctx context.Context, parentURL string, records ...*core.ChunkRecord) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	own := make([]*core.ChunkRecord, 0, len(records))
	for _, r := range records {
		if r != nil && r.ParentURL != parentURL {
			result.Failed = append(result.Failed, core.RecordError{
				ID:  r.ID,
				Err: fmt.Errorf("%w: record belongs to %s, not %s", core.ErrValidation, r.ParentURL, parentURL),
			})
			continue
		}
		own = append(own, r)
	}

	valid := c.validate(own, result)
	if len(valid) == 0 {
		return result, nil
	}
	embedded, vectors, err := c.embed(ctx, valid, result)
	if err != nil {
		return result, err
	}
	if len(embedded) == 0 {
		return result, nil
	}
	if err := c.write(ctx, embedded, vectors, parentURL); err != nil {
		return result, err
	}
	result.Written = len(embedded)
	if len(result.Failed) > 0 {
		c.logger.Warn("stored incomplete chunk family", "url", parentURL, "written", result.Written, "failed", len(result.Failed))
	}
	return result, nil
}

func (c *Collection) validate(records []*core.ChunkRecord, result *storage.UpsertResult) []*core.ChunkRecord {
	valid := make([]*core.ChunkRecord, 0, len(records))
	for i, r := range records {
		if err := core.ValidateChunkRecord(r); err != nil {
			id := fmt.Sprintf("#%d", i)
			if r != nil && r.ID != "" {
				id = r.ID
			}
			result.Failed = append(result.Failed, core.RecordError{ID: id, Err: err})
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

// embed computes vectors for records, batch first. When the batch call
// fails each record is embedded on its own with retries, and records that
// still fail are reported in result.
func (c *Collection) embed(ctx context.Context, records []*core.ChunkRecord, result *storage.UpsertResult) ([]*core.ChunkRecord, [][]float32, error) {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err == nil && len(vectors) == len(records) && !slices.ContainsFunc(vectors, func(v []float32) bool { return len(v) == 0 }) {
		return records, vectors, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}
	if err == nil {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(records))
	}
	c.logger.Warn("batch embedding failed, falling back to single records", "count", len(records), "err", err)

	var (
		ok   []*core.ChunkRecord
		vecs [][]float32
	)
	for _, r := range records {
		vector, err := c.embedOne(ctx, r.Text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			c.logger.Error("failed to embed record", "id", r.ID, "err", err)
			result.Failed = append(result.Failed, core.RecordError{ID: r.ID, Err: fmt.Errorf("%w: %w", core.ErrEmbedding, err)})
			continue
		}
		ok = append(ok, r)
		vecs = append(vecs, vector)
	}
	return ok, vecs, nil
}

func (c *Collection) embedOne(ctx context.Context, text string) ([]float32, error) {
	backoff := c.embedBackoff
	var lastErr error
	for attempt := 0; attempt <= c.embedRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		vector, err := c.embedder.EmbedText(ctx, text)
		if err == nil && len(vector) > 0 {
			return vector, nil
		}
		if err == nil {
			err = errors.New("empty vector")
		}
		lastErr = err
	}
	return nil, lastErr
}

// write stores records in one transaction. Records keep the sequence number
// of the entry they overwrite. If replaceURL is set, chunks of that article
// not among records are deleted in the same transaction.
func (c *Collection) write(ctx context.Context, records []*core.ChunkRecord, vectors [][]float32, replaceURL string) error {
	var err error
	for attempt := 0; attempt < maxConflictAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = c.backend.WithTx(func(tx *badger.Txn) error {
			now := time.Now().UTC()
			keep := make(map[string]struct{}, len(records))
			for i, r := range records {
				key := makeChunkKey(c.name, r.ID)
				seq, err := c.existingSeq(tx, key)
				if err != nil {
					return err
				}
				if seq == 0 {
					next, err := c.seq.Next()
					if err != nil {
						return err
					}
					seq = next + 1
				}
				r.Vector = vectors[i]
				r.Seq = seq
				r.UpdatedAt = now

				data, err := storage.MarshalChunkRecord(r)
				if err != nil {
					return err
				}
				if err := tx.Set(key, data); err != nil {
					return err
				}
				keep[string(key)] = struct{}{}
			}

			if replaceURL != "" {
				stale := c.keysWithPrefix(tx, makeFamilyPrefix(c.name, core.FamilyPrefix(replaceURL)))
				for _, key := range stale {
					if _, ok := keep[string(key)]; ok {
						continue
					}
					if err := tx.Delete(key); err != nil {
						return err
					}
				}
			}
			return tx.Commit()
		}, true)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		c.logger.Debug("write conflict, retrying", "attempt", attempt+1)
	}
	if err != nil {
		return fmt.Errorf("writing %d records: %w", len(records), err)
	}
	c.logger.Debug("wrote records", "count", len(records))
	return nil
}

func (c *Collection) existingSeq(tx *badger.Txn, key []byte) (uint64, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		_, _, s, err := storage.UnmarshalMetadata(val)
		seq = s
		return err
	})
	return seq, err
}

func (c *Collection) keysWithPrefix(tx *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys
}

// Get retrieves a record by ID.
func (c *Collection) Get(ctx context.Context, id string) (*core.ChunkRecord, error) {
	var record *core.ChunkRecord
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		record, err = c.read(tx, id)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Collection) read(tx *badger.Txn, id string) (*core.ChunkRecord, error) {
	item, err := tx.Get(makeChunkKey(c.name, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var record *core.ChunkRecord
	err = item.Value(func(val []byte) error {
		record, err = storage.UnmarshalChunkRecord(id, val)
		return err
	})
	return record, err
}

// Exists reports whether a record with id is stored.
func (c *Collection) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Family returns every stored chunk of parentURL ordered by ChunkIndex.
func (c *Collection) Family(ctx context.Context, parentURL string) ([]*core.ChunkRecord, error) {
	var records []*core.ChunkRecord
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		records, err = c.scan(tx, makeFamilyPrefix(c.name, core.FamilyPrefix(parentURL)), nil, 0)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b *core.ChunkRecord) int {
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
	return records, nil
}

// scan decodes records under prefix, starting after the key after (if set),
// returning at most limit records when limit > 0.
func (c *Collection) scan(tx *badger.Txn, prefix, after []byte, limit int) ([]*core.ChunkRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var records []*core.ChunkRecord
	if after != nil {
		iter.Seek(after)
		if iter.Valid() && bytes.Equal(iter.Item().Key(), after) {
			iter.Next()
		}
	} else {
		iter.Rewind()
	}
	for ; iter.Valid(); iter.Next() {
		item := iter.Item()
		id := idFromChunkKey(c.name, item.Key())
		var record *core.ChunkRecord
		err := item.Value(func(val []byte) error {
			var err error
			record, err = storage.UnmarshalChunkRecord(id, val)
			return err
		})
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

// Query embeds text with the collection's embedder and searches with it.
func (c *Collection) Query(ctx context.Context, text string, k int, filter core.Filter) ([]*core.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", storage.ErrInvalidQuery, k)
	}
	vector, err := c.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	return c.QueryVector(ctx, vector, k, filter)
}

// QueryVector returns the k records nearest to vector that match filter.
func (c *Collection) QueryVector(ctx context.Context, vector []float32, k int, filter core.Filter) ([]*core.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", storage.ErrInvalidQuery, k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	var (
		results    []*core.SearchResult
		mismatched int
	)
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(c.name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			var (
				meta core.Metadata
				vec  []float32
				seq  uint64
			)
			err := item.Value(func(val []byte) error {
				var err error
				meta, vec, seq, err = storage.UnmarshalMetadata(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(vec) == 0 || !filter.Matches(meta) {
				continue
			}
			if len(vec) != len(vector) {
				mismatched++
				continue
			}
			results = append(results, &core.SearchResult{
				Record:   &core.ChunkRecord{ID: idFromChunkKey(c.name, item.Key()), Seq: seq},
				Distance: c.metric.Distance(vector, vec),
			})
		}

		storage.SortResults(results)
		if len(results) > k {
			results = results[:k]
		}
		for _, r := range results {
			record, err := c.read(tx, r.Record.ID)
			if err != nil {
				return err
			}
			r.Record = record
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	if mismatched > 0 {
		c.logger.Warn("skipped records with mismatched vector length", "count", mismatched, "dim", len(vector))
	}
	return results, nil
}

// List returns up to limit records in insertion order.
func (c *Collection) List(ctx context.Context, limit int) ([]*core.ChunkRecord, error) {
	var records []*core.ChunkRecord
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		records, err = c.scan(tx, makeChunkPrefix(c.name), nil, 0)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b *core.ChunkRecord) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ForEach pages through the collection in key order. Each page is read in
// its own transaction so fn may write to the collection.
func (c *Collection) ForEach(ctx context.Context, batchSize int, fn func(records []*core.ChunkRecord) error) error {
	if batchSize <= 0 {
		batchSize = defaultForEachBatch
	}
	prefix := makeChunkPrefix(c.name)
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var page []*core.ChunkRecord
		err := c.backend.WithTx(func(tx *badger.Txn) error {
			var err error
			page, err = c.scan(tx, prefix, after, batchSize)
			return err
		}, false)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batchSize {
			return nil
		}
		after = makeChunkKey(c.name, page[len(page)-1].ID)
	}
}

// Delete removes records by ID and returns how many existed.
func (c *Collection) Delete(ctx context.Context, ids ...string) (int, error) {
	deleted := 0
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		deleted = 0
		for _, id := range ids {
			key := makeChunkKey(c.name, id)
			if _, err := tx.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteByFilter removes every record whose metadata matches filter.
func (c *Collection) DeleteByFilter(ctx context.Context, filter core.Filter) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: empty filter", storage.ErrInvalidQuery)
	}

	var keys [][]byte
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(c.name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var meta core.Metadata
			err := item.Value(func(val []byte) error {
				var err error
				meta, _, _, err = storage.UnmarshalMetadata(val)
				return err
			})
			if err != nil {
				return err
			}
			if filter.Matches(meta) {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}
	if err := c.deleteKeys(keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteFamily removes every chunk of parentURL.
func (c *Collection) DeleteFamily(ctx context.Context, parentURL string) (int, error) {
	deleted := 0
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		keys := c.keysWithPrefix(tx, makeFamilyPrefix(c.name, core.FamilyPrefix(parentURL)))
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		c.logger.Debug("deleted article", "url", parentURL, "chunks", deleted)
	}
	return deleted, nil
}

func (c *Collection) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	if c.backend.IsClosed() {
		return storage.ErrStoreUnavailable
	}
	wb := c.backend.newWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return mapError(err)
		}
	}
	return mapError(wb.Flush())
}

// Count returns the number of stored records.
func (c *Collection) Count(ctx context.Context) (int, error) {
	count := 0
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(c.name)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Reset removes every record in the collection. The collection itself
// survives and stays usable.
func (c *Collection) Reset(ctx context.Context) error {
	count, err := c.Count(ctx)
	if err != nil {
		return err
	}
	if err := c.backend.dropPrefix(makeChunkPrefix(c.name)); err != nil {
		return err
	}
	c.logger.Warn("collection reset, all records deleted", "deleted", count)
	return nil
}
