package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store persists audit events on disk until the sink confirms delivery, so
// security events survive process restarts and sink outages.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Open initializes the BoltDB file and ensures the bucket exists.
func Open(path string, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = "audit"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		bucket: []byte(bucket),
	}, nil
}

// Append stores a record keyed by spool time so drains run oldest-first.
func (s *Store) Append(record Record) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	record.normalize()
	key := fmt.Sprintf("%020d:%s", record.SpooledAt.UnixNano(), record.ID)
	record.bucketKey = []byte(key)

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(record.bucketKey, payload)
	})
}

// Batch returns up to limit records without removing them.
func (s *Store) Batch(limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(records) < limit; k, v = c.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			record.bucketKey = append([]byte(nil), k...)
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Remove deletes a delivered record.
func (s *Store) Remove(record Record) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(record.bucketKey)
	})
}

// Requeue re-appends a record after a failed delivery attempt.
func (s *Store) Requeue(record Record) error {
	if err := s.Remove(record); err != nil {
		return err
	}
	record.bucketKey = nil
	record.Attempts++
	record.SpooledAt = time.Now()
	return s.Append(record)
}

// Size returns the number of spooled records.
func (s *Store) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
