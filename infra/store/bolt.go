package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kilianp07/fleetbridge/core/store"
)

const bucketState = "state"

// Bolt persists state in a bbolt file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketState))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketState, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, key string) (string, error) {
	var v string
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketState)).Get([]byte(key))
		if raw == nil {
			return store.ErrNotFound
		}
		v = string(raw)
		return nil
	})
	return v, err
}

func (b *Bolt) Set(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketState)).Put([]byte(key), []byte(value))
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
