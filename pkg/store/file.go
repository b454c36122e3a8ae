package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/value"
)

// FileStore is the file-backed adapter: an in-memory map mirrored to a
// bbolt-backed bucket on disk, with debounced, coalesced flushes. A dirty
// flag plus a flush-in-progress guard ensure no write is lost and no two
// flushes overlap.
type FileStore struct {
	mu       sync.Mutex
	records  map[string]value.Value
	deleted  map[string]bool
	dirty    bool
	flushing bool

	db     *bolt.DB
	bucket []byte

	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// FileStoreConfig configures a FileStore's on-disk location and flush
// cadence.
type FileStoreConfig struct {
	DataDir    string
	Collection string
	Debounce   time.Duration // default 100ms
}

// NewFileStore opens (creating if absent) the on-disk database for a
// collection, loads its existing records, and starts the debounced flush
// loop. A handle that fails to initialize is never returned.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorBackendUnavailable, Store: cfg.Collection, Cause: err}
	}

	dbPath := filepath.Join(cfg.DataDir, "reqon.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorBackendUnavailable, Store: cfg.Collection, Cause: err}
	}

	bucket := []byte(cfg.Collection)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorBackendUnavailable, Store: cfg.Collection, Cause: err}
	}

	records := make(map[string]value.Value)
	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, v []byte) error {
			var native interface{}
			if err := json.Unmarshal(v, &native); err != nil {
				return err
			}
			records[string(k)] = value.FromNative(native)
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Store: cfg.Collection, Cause: err}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	fs := &FileStore{
		records:  records,
		deleted:  make(map[string]bool),
		db:       db,
		bucket:   bucket,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go fs.flushLoop()
	return fs, nil
}

func (s *FileStore) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.Flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *FileStore) Get(ctx context.Context, key string) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *FileStore) Set(ctx context.Context, key string, rec value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	s.dirty = true
	return nil
}

func (s *FileStore) Update(ctx context.Context, key string, partial value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[key]
	if !ok {
		s.records[key] = partial
	} else {
		s.records[key] = shallowMerge(existing, partial)
	}
	s.dirty = true
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	s.deleted[key] = true
	s.dirty = true
	return nil
}

func (s *FileStore) List(ctx context.Context, filter Filter) ([]value.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]value.Value, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *FileStore) Count(ctx context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if filter.Matches(rec) {
			n++
		}
	}
	return n, nil
}

func (s *FileStore) BulkSet(ctx context.Context, recs map[string]value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range recs {
		s.records[k] = v
	}
	s.dirty = true
	return nil
}

func (s *FileStore) BulkUpsert(ctx context.Context, recs map[string]value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range recs {
		if existing, ok := s.records[k]; ok {
			s.records[k] = shallowMerge(existing, v)
		} else {
			s.records[k] = v
		}
	}
	s.dirty = true
	return nil
}

// Flush writes dirty records to the bbolt bucket. A flush already in
// progress is a no-op for the caller (the running flush will pick up
// writes made after it started on its next tick).
func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty || s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	snapshot := make(map[string]value.Value, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	toDelete := make([]string, 0, len(s.deleted))
	for k := range s.deleted {
		toDelete = append(toDelete, k)
	}
	s.deleted = make(map[string]bool)
	s.dirty = false
	s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, key := range toDelete {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		for key, rec := range snapshot {
			data, err := json.Marshal(rec.ToNative())
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})

	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()

	if err != nil {
		return &rerrors.StoreError{Kind: rerrors.StoreErrorIO, Cause: err}
	}
	return nil
}

// Close stops the flush loop, performs a final guaranteed flush, and
// closes the underlying database.
func (s *FileStore) Close() error {
	close(s.stopCh)
	<-s.doneCh
	if err := s.Flush(context.Background()); err != nil {
		return err
	}
	return s.db.Close()
}
