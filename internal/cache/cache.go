// Package cache provides the TTL key/value cache backing EPG query
// results. It is an embedded Badger store under the data directory, so a
// restart keeps warm entries without any external service.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/plexbridge/plexbridge/internal/models"
)

// Well-known key prefixes.
const (
	PrefixEPG = "epg:"

	KeyCurrentProgram = PrefixEPG + "current:" // + channel id, 30s TTL
	KeyChannelRange   = PrefixEPG + "range:"   // + channel id + window, 1h TTL
	KeyGuideGrid      = PrefixEPG + "grid:"    // + window, 30m TTL
)

// Cache is a TTL key/value store.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// Options configures New.
type Options struct {
	// Path is the on-disk location. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
	Logger   *slog.Logger
}

// New opens the cache.
func New(opts Options) (*Cache, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening cache: %v", models.ErrStorage, err)
	}
	return &Cache{db: db, logger: log}, nil
}

// Get returns the value for key and whether it was present. Expired
// entries read as absent.
func (c *Cache) Get(key string) ([]byte, bool) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return out, true
}

// Set stores value under key with the given TTL. A zero TTL stores the
// entry without expiry.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: cache write %s: %v", models.ErrStorage, key, err)
	}
	return nil
}

// Del removes a key. Deleting an absent key is not an error.
func (c *Cache) Del(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: cache delete %s: %v", models.ErrStorage, key, err)
	}
	return nil
}

// Keys returns all live keys with the given prefix.
func (c *Cache) Keys(prefix string) ([]string, error) {
	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cache key scan %s: %v", models.ErrStorage, prefix, err)
	}
	return keys, nil
}

// InvalidatePrefix drops every key under prefix. Called after a
// successful EPG refresh so guide reads never serve stale data.
func (c *Cache) InvalidatePrefix(prefix string) error {
	if err := c.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("%w: cache invalidate %s: %v", models.ErrStorage, prefix, err)
	}
	return nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}
