package store

import (
	"context"
	"errors"
	"log/slog"
)

// Chain reads through an ordered list of stores, returning the first
// non-missing result. Writes land in the first store and are mirrored
// best-effort into the rest, so the fallbacks hold a copy when the
// primary is lost. It replaces ad hoc "look in the new store, then the
// old store, then scan raw keys" fallbacks with a single provider list.
type Chain struct {
	stores []RecordStore
	logger *slog.Logger
}

// NewChain creates a Chain over the given stores. The first store is
// authoritative; later stores are fallbacks (older storage
// generations, secondary backends).
func NewChain(logger *slog.Logger, stores ...RecordStore) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stores: stores, logger: logger}
}

func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error = ErrNotFound
	for i, s := range c.stores {
		v, err := s.Get(ctx, key)
		if err == nil {
			if i > 0 {
				c.logger.Debug("record served by fallback store", "key", key, "store_index", i)
			}
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			// A broken store must not mask later generations.
			c.logger.Warn("store read failed, trying next", "key", key, "store_index", i, "error", err)
		}
		lastErr = err
	}
	return nil, lastErr
}

// Set writes to the first store; only that write decides success. The
// value is then mirrored into the remaining stores so they can serve
// the key after the primary is wiped.
func (c *Chain) Set(ctx context.Context, key string, value []byte) error {
	if err := c.stores[0].Set(ctx, key, value); err != nil {
		return err
	}
	for i, s := range c.stores[1:] {
		if err := s.Set(ctx, key, value); err != nil {
			c.logger.Warn("mirror write failed", "key", key, "store_index", i+1, "error", err)
		}
	}
	return nil
}

// Remove deletes the key from every store so stale fallback copies
// cannot resurrect removed records.
func (c *Chain) Remove(ctx context.Context, key string) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Chain) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, s := range c.stores {
		ks, err := s.Keys(ctx, prefix)
		if err != nil {
			continue
		}
		for _, k := range ks {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys, nil
}
