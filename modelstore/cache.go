package modelstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// modelsBucket names the single bucket holding both model artifacts.
var modelsBucket = []byte("models")

// Cache is a durable key/value store for model artifact bytes, backed by
// a single bbolt file, keyed by encoder/decoder artifact name.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) a bbolt database at path and
// ensures the models bucket exists.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("OpenCache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenCache: create bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database file handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached bytes for key, if present. Read failures are
// treated as a cache miss (ok=false) rather than propagated; callers fall
// back to the network.
func (c *Cache) Get(key ArtifactKey) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(modelsBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Put stores data under key, overwriting any existing value.
func (c *Cache) Put(key ArtifactKey, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(modelsBucket)
		if b == nil {
			var err error
			b, err = tx.CreateBucket(modelsBucket)
			if err != nil {
				return err
			}
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("Cache.Put: %w", err)
	}
	return nil
}

// Clear removes both artifact entries, recreating an empty bucket.
func (c *Cache) Clear() error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(modelsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("Cache.Clear: %w", err)
	}
	return nil
}
