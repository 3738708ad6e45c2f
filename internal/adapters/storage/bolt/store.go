// Package bolt persists the key -> blob layout in a single bbolt file on the
// local device.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/niallgpt/niallgpt/internal/domain"
)

var bucketName = []byte("niallgpt")

type Store struct {
	db *bolt.DB
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return domain.ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("bolt: put %s: %w", key, domain.ErrQuotaExceeded)
		}
		return fmt.Errorf("bolt: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
