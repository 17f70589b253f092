// Package peercache is a bbolt-backed TTL cache for resolved Telegram peer
// and group metadata (kind, title and the time it was cached). The app
// opens the cache and hands it to the dispatcher; no command handler reads
// from it. Entries older than TTL are treated as absent.
package peercache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName  = "peer_cache"
	dbOpenTimeout = time.Second
	dbFileMode  os.FileMode = 0o600
)

var bucketBytes = []byte(bucketName)

// Entry is one cached peer/group record.
type Entry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"` // "user", "chat", "channel"
	Title     string    `json:"title"`
	CachedAt  time.Time `json:"cached_at"`
}

// Cache wraps a bbolt database file holding peer Entry records.
type Cache struct {
	db  *bbolt.DB
	ttl time.Duration
}

// Open opens (creating if needed) the bbolt database at path.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if path == "" {
		return nil, errors.New("peercache: db path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("peercache: create dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("peercache: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBytes)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("peercache: create bucket: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// Close releases the underlying database file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached entry for id if present and not expired.
func (c *Cache) Get(id int64) (Entry, bool) {
	var entry Entry
	var found bool

	_ = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBytes)
		raw := b.Get(key(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})

	if !found {
		return Entry{}, false
	}
	if c.ttl > 0 && time.Since(entry.CachedAt) > c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Put stores or refreshes an entry, stamping CachedAt with the current time.
func (c *Cache) Put(e Entry) error {
	e.CachedAt = time.Now()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBytes)
		return b.Put(key(e.ID), data)
	})
}

// Purge removes every entry older than TTL, returning the count removed.
func (c *Cache) Purge() (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	removed := 0
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBytes)

		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if time.Since(entry.CachedAt) > c.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func key(id int64) []byte {
	return []byte(fmt.Sprintf("%d", id))
}
