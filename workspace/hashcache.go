package workspace

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const hashBucket = "hashes"

// HashCache memoizes content hashes of workspace files in a local bbolt
// database. Entries are keyed by path and validated against the file's
// size and mtime, so a changed file is simply re-hashed on next access.
type HashCache struct {
	db *bolt.DB
}

type hashEntry struct {
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
	Hash  string `json:"hash"`
}

// OpenHashCache opens or creates the cache database at path.
func OpenHashCache(path string) (*HashCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(hashBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create hash bucket: %w", err)
	}
	return &HashCache{db: db}, nil
}

// Get returns the cached hash for the key if it is still valid for the
// given size and mtime.
func (c *HashCache) Get(key string, size int64, mtime time.Time) (string, bool) {
	var entry hashEntry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(hashBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found || entry.Size != size || entry.MTime != mtime.UnixNano() {
		return "", false
	}
	return entry.Hash, true
}

// Put records the hash for the key at the given size and mtime.
func (c *HashCache) Put(key string, size int64, mtime time.Time, hash string) error {
	data, err := json.Marshal(hashEntry{Size: size, MTime: mtime.UnixNano(), Hash: hash})
	if err != nil {
		return fmt.Errorf("failed to marshal hash entry: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(hashBucket)).Put([]byte(key), data)
	})
}

// Close closes the underlying database.
func (c *HashCache) Close() error {
	return c.db.Close()
}
