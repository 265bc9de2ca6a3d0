// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists per-file lint results between runs.
//
// An entry is keyed by the file's absolute path and remembers the content
// hash and the options fingerprint it was computed under. A lookup hits only
// when both still match, so editing a file or changing any option
// invalidates it without an explicit purge.
//
// Results carrying fixed output or fatal errors are never stored.
package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// DefaultDir is the cache directory under the working directory.
const DefaultDir = ".parallintcache"

// formatVersion is mixed into every fingerprint so a change to the stored
// shape invalidates old entries.
const formatVersion = 1

const keyPrefix = "result/"

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallint_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"})

	storesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallint_cache_stores_total",
		Help: "Results written to the cache",
	})
)

// Config configures a Cache.
type Config struct {
	Store StoreConfig

	// TTL expires entries. Zero keeps them until overwritten.
	TTL time.Duration
}

// Cache stores lint results in BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	store  *store
	ttl    time.Duration
	logger *slog.Logger
}

type entry struct {
	Content uint64        `json:"content"`
	Options uint64        `json:"options"`
	Result  report.Result `json:"result"`
}

// Open opens or creates a cache.
func Open(cfg Config) (*Cache, error) {
	s, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	logger := cfg.Store.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: s, ttl: cfg.TTL, logger: logger}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Fingerprint hashes everything in opts that can change a result.
//
// Cwd is excluded because paths are stored absolute already.
func Fingerprint(opts lint.Options) (uint64, error) {
	opts.Cwd = ""
	raw, err := opts.Marshal()
	if err != nil {
		return 0, fmt.Errorf("fingerprint options: %w", err)
	}
	h := xxhash.New()
	var version [8]byte
	binary.LittleEndian.PutUint64(version[:], formatVersion)
	h.Write(version[:])
	h.Write(raw)
	return h.Sum64(), nil
}

// ContentHash hashes file content.
func ContentHash(text []byte) uint64 {
	return xxhash.Sum64(text)
}

func key(path string) []byte {
	return []byte(keyPrefix + filepath.Clean(path))
}

// Get returns the stored result for path when it was computed from the same
// content under the same options.
func (c *Cache) Get(path string, content, options uint64) (report.Result, bool, error) {
	var e entry
	err := c.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		lookupsTotal.WithLabelValues("miss").Inc()
		return report.Result{}, false, nil
	}
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return report.Result{}, false, fmt.Errorf("read cache entry %s: %w", path, err)
	}
	if e.Content != content || e.Options != options {
		lookupsTotal.WithLabelValues("stale").Inc()
		return report.Result{}, false, nil
	}
	lookupsTotal.WithLabelValues("hit").Inc()
	e.Result.FilePath = path
	return e.Result, true, nil
}

// Cacheable reports whether res may be stored.
func Cacheable(res report.Result) bool {
	return !res.Ignored && res.Output == "" && !res.HasFatal()
}

// Put stores res for path. Results that are not Cacheable are skipped.
func (c *Cache) Put(path string, content, options uint64, res report.Result) error {
	if !Cacheable(res) {
		return nil
	}
	val, err := json.Marshal(entry{Content: content, Options: options, Result: res})
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", path, err)
	}
	err = c.store.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(path), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", path, err)
	}
	storesTotal.Inc()
	return nil
}

// Delete removes the entry for path, if any.
func (c *Cache) Delete(path string) error {
	return c.store.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(path))
	})
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	return c.store.DropPrefix([]byte(keyPrefix))
}

// Len counts the stored entries.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.store.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
