package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore error = %v", err)
	}
	ctx := context.Background()

	if _, err := fs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := fs.Set(ctx, "infracc_d1_discovery", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set error = %v", err)
	}
	got, err := fs.Get(ctx, "infracc_d1_discovery")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %q, want %q", got, `{"a":1}`)
	}

	if err := fs.Remove(ctx, "infracc_d1_discovery"); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	if _, err := fs.Get(ctx, "infracc_d1_discovery"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
	}

	// Removing an absent key is not an error.
	if err := fs.Remove(ctx, "infracc_d1_discovery"); err != nil {
		t.Errorf("Remove(absent) error = %v", err)
	}
}

func TestFileStore_Keys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore error = %v", err)
	}
	ctx := context.Background()

	for _, k := range []string{"infracc_d1_discovery", "infracc_d1_assessment", "infracc_d2_discovery"} {
		if err := fs.Set(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}

	keys, err := fs.Keys(ctx, "infracc_d1_")
	if err != nil {
		t.Fatalf("Keys error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys(infracc_d1_) len = %d, want 2 (%v)", len(keys), keys)
	}
}

func TestFileStore_Quota(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("NewFileStore error = %v", err)
	}
	ctx := context.Background()

	if err := fs.Set(ctx, "small", []byte("12345678")); err != nil {
		t.Fatalf("Set(small) error = %v", err)
	}
	err = fs.Set(ctx, "big", []byte("0123456789abcdef0"))
	if !IsQuota(err) {
		t.Fatalf("Set(big) error = %v, want quota", err)
	}

	// Overwriting an existing key reclaims the old size first.
	if err := fs.Set(ctx, "small", []byte("abcdefgh")); err != nil {
		t.Errorf("overwrite within quota error = %v", err)
	}
}

func TestFileStore_KeySanitization(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore error = %v", err)
	}
	ctx := context.Background()

	key := "infracc_../../etc_state"
	if err := fs.Set(ctx, key, []byte("v")); err != nil {
		t.Fatalf("Set error = %v", err)
	}
	got, err := fs.Get(ctx, key)
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	keys, err := fs.Keys(ctx, "infracc_")
	if err != nil {
		t.Fatalf("Keys error = %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Keys = %v, want [%s]", keys, key)
	}
}

func TestMemoryStore_ErrorInjection(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	ms.ErrOnKey = map[string]error{"bad": ErrQuotaExceeded}
	if err := ms.Set(ctx, "bad", []byte("x")); !IsQuota(err) {
		t.Errorf("Set(bad) error = %v, want quota", err)
	}
	if err := ms.Set(ctx, "good", []byte("x")); err != nil {
		t.Errorf("Set(good) error = %v", err)
	}
	if ms.WriteCount() != 1 {
		t.Errorf("WriteCount = %d, want 1", ms.WriteCount())
	}
}

func TestMemoryStore_QuotaAfterNWrites(t *testing.T) {
	ms := NewMemoryStore()
	ms.QuotaAfterNWrites = 2
	ctx := context.Background()

	if err := ms.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set(a) error = %v", err)
	}
	if err := ms.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatalf("Set(b) error = %v", err)
	}
	if err := ms.Set(ctx, "c", []byte("3")); !IsQuota(err) {
		t.Errorf("Set(c) error = %v, want quota", err)
	}
}

func TestChain_FallbackRead(t *testing.T) {
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	ctx := context.Background()

	if err := fallback.Set(ctx, "old", []byte("legacy")); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}

	chain := NewChain(nil, primary, fallback)

	got, err := chain.Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != "legacy" {
		t.Errorf("Get = %q, want legacy", got)
	}

	// Remove clears every generation.
	if err := chain.Remove(ctx, "old"); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	if _, err := chain.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
	}
}

func TestChain_MirroredWriteSurvivesPrimaryLoss(t *testing.T) {
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	ctx := context.Background()

	chain := NewChain(nil, primary, fallback)
	if err := chain.Set(ctx, "state", []byte("v1")); err != nil {
		t.Fatalf("Set error = %v", err)
	}
	if _, err := fallback.Get(ctx, "state"); err != nil {
		t.Fatalf("fallback missing mirrored record: %v", err)
	}

	// Primary write failures are the caller's problem.
	primary.SetErr = errors.New("disk full")
	if err := chain.Set(ctx, "other", []byte("v")); err == nil {
		t.Error("Set should fail when the primary write fails")
	}
	primary.SetErr = nil

	// A wiped primary still serves mirrored keys.
	if err := primary.Remove(ctx, "state"); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	got, err := chain.Get(ctx, "state")
	if err != nil {
		t.Fatalf("Get after primary loss error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1", got)
	}
}

func TestChain_BrokenPrimaryDoesNotMaskFallback(t *testing.T) {
	primary := NewMemoryStore()
	primary.GetErr = errors.New("store offline")
	fallback := NewMemoryStore()
	ctx := context.Background()

	if err := fallback.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}

	chain := NewChain(nil, primary, fallback)
	got, err := chain.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
}

// wrappingStore decorates misses with context, as callers composing
// stores tend to do.
type wrappingStore struct {
	inner RecordStore
}

func (w *wrappingStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := w.inner.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	return v, nil
}

func (w *wrappingStore) Set(ctx context.Context, key string, value []byte) error {
	return w.inner.Set(ctx, key, value)
}

func (w *wrappingStore) Remove(ctx context.Context, key string) error {
	return w.inner.Remove(ctx, key)
}

func (w *wrappingStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return w.inner.Keys(ctx, prefix)
}

type warnCounter struct {
	mu    sync.Mutex
	warns int
}

func (h *warnCounter) Enabled(context.Context, slog.Level) bool { return true }
func (h *warnCounter) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *warnCounter) WithGroup(string) slog.Handler            { return h }

func (h *warnCounter) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.mu.Lock()
		h.warns++
		h.mu.Unlock()
	}
	return nil
}

func (h *warnCounter) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warns
}

func TestChain_WrappedMissIsStillAMiss(t *testing.T) {
	primary := &wrappingStore{inner: NewMemoryStore()}
	fallback := NewMemoryStore()
	ctx := context.Background()

	if err := fallback.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}

	counter := &warnCounter{}
	chain := NewChain(slog.New(counter), primary, fallback)

	got, err := chain.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
	if counter.count() != 0 {
		t.Errorf("a wrapped miss logged %d warnings, want none", counter.count())
	}

	if _, err := chain.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) error = %v, want ErrNotFound", err)
	}
}
