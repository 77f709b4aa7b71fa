// Package kvdb adapts cometbft-db's embedded key-value store for use as
// a durable backing store outside of a consensus engine — here, the
// auxiliary buffered-signature store of pkg/buffer.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a cometbft-db dbm.DB behind a minimal get/set/delete
// surface, so callers don't need to depend on the full dbm.DB interface.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get returns the value for key, or nil if it is not present.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Set durably writes key to value.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Delete durably removes key.
func (a *KVAdapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

// IteratePrefix calls fn for every key with the given prefix, in
// lexicographic key order, stopping early if fn returns false.
func (a *KVAdapter) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	if a.db == nil {
		return nil
	}
	end := prefixEnd(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix, for use as an exclusive iterator upper bound.
func prefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix was all 0xff, no upper bound
}

// compactor is implemented by some dbm.DB backends (e.g. goleveldb) to
// reclaim space held by deleted/overwritten keys. Not every backend
// supports it, so Compact checks for it rather than requiring it.
type compactor interface {
	Compact(start, limit []byte) error
}

// Compact asks the underlying database to reclaim space across its
// full key range, if it supports compaction. Backends that don't
// (e.g. an in-memory DB) silently no-op.
func (a *KVAdapter) Compact() error {
	if a.db == nil {
		return nil
	}
	c, ok := a.db.(compactor)
	if !ok {
		return nil
	}
	return c.Compact(nil, nil)
}

// Close closes the underlying database.
func (a *KVAdapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
