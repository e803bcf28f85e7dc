// Package store is the embedded persistence layer backing the engine:
// Downloads, Queues, and MediaItems, each in their own bbolt bucket.
// Grounded directly on the teacher's internal/repository/bbolt.go
// (CreateBucketIfNotExists + schema-version stamp on open, JSON-encoded
// values keyed by id, View/Update transaction split), generalized from a
// single downloads bucket to one bucket per record kind.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
)

const (
	downloadsBucket = "downloads"
	queuesBucket    = "queues"
	mediaBucket     = "media"
	metadataBucket  = "metadata"
	schemaVersion   = 1

	openTimeout = 1 * time.Second
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("record not found")

// Store is the bbolt-backed persistence handle shared by the engine.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the database at dbPath and ensures its
// buckets and schema-version stamp exist.
func Open(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{downloadsBucket, queuesBucket, mediaBucket, metadataBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(metadataBucket))
		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDownload upserts d.
func (s *Store) SaveDownload(d *common.Download) error {
	return s.put(downloadsBucket, d.ID.String(), d)
}

// FindDownload looks up a Download by id.
func (s *Store) FindDownload(id uuid.UUID) (*common.Download, error) {
	d := &common.Download{}
	if err := s.get(downloadsBucket, id.String(), d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDownloads returns every persisted Download, in no particular order.
func (s *Store) ListDownloads() ([]*common.Download, error) {
	var out []*common.Download
	err := s.forEach(downloadsBucket, func(v []byte) error {
		d := &common.Download{}
		if err := json.Unmarshal(v, d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// DeleteDownload removes a Download record by id.
func (s *Store) DeleteDownload(id uuid.UUID) error {
	return s.delete(downloadsBucket, id.String())
}

// SaveQueue upserts q.
func (s *Store) SaveQueue(q *common.Queue) error {
	return s.put(queuesBucket, q.ID, q)
}

// ListQueues returns every persisted Queue.
func (s *Store) ListQueues() ([]*common.Queue, error) {
	var out []*common.Queue
	err := s.forEach(queuesBucket, func(v []byte) error {
		q := &common.Queue{}
		if err := json.Unmarshal(v, q); err != nil {
			return err
		}
		out = append(out, q)
		return nil
	})
	return out, err
}

// DeleteQueue removes a Queue record by id.
func (s *Store) DeleteQueue(id string) error {
	return s.delete(queuesBucket, id)
}

// SaveMediaItem upserts m.
func (s *Store) SaveMediaItem(m *common.MediaItem) error {
	return s.put(mediaBucket, m.ID, m)
}

// ListMediaItems returns every persisted MediaItem.
func (s *Store) ListMediaItems() ([]*common.MediaItem, error) {
	var out []*common.MediaItem
	err := s.forEach(mediaBucket, func(v []byte) error {
		m := &common.MediaItem{}
		if err := json.Unmarshal(v, m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// ClearMediaItems removes every MediaItem record (the "/clear" route).
func (s *Store) ClearMediaItems() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(mediaBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(mediaBucket))
		return err
	})
}

func (s *Store) put(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) get(bucket, key string, out interface{}) error {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", bucket)
		}
		data = b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Store) delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", bucket)
		}
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) forEach(bucket string, fn func(v []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", bucket)
		}
		return b.ForEach(func(_, v []byte) error {
			return fn(v)
		})
	})
}
