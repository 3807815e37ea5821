package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/asmeyatsky/infracc-sub002/internal/dataset"
	"github.com/asmeyatsky/infracc-sub002/internal/store"
)

const testDataset = dataset.ID("d1ffc0ffee00")

func newTestCache(t *testing.T, ms *store.MemoryStore) *Cache {
	t.Helper()
	c, err := New(ms, Options{
		Threshold: func(stageID string) int {
			if stageID == "cost" {
				return 50000
			}
			return 3
		},
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return c
}

func workloads(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = map[string]any{"id": i}
	}
	return out
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	output := map[string]any{"workloads": workloads(2), "workloadCount": float64(2)}
	if err := c.Put(ctx, testDataset, "discovery", output); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil after successful Put")
	}
	if n := len(got["workloads"].([]any)); n != 2 {
		t.Errorf("workloads len = %d, want 2", n)
	}

	// Idempotent: repeated reads return the same output.
	again, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("second Get error = %v", err)
	}
	a, _ := json.Marshal(got)
	b, _ := json.Marshal(again)
	if string(a) != string(b) {
		t.Error("repeated Get returned a different output")
	}
}

func TestCache_StrippingRoundTrip(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	// Above threshold (3): stripped with a preserved count.
	output := map[string]any{"workloads": workloads(5), "region": "us-east1"}
	if err := c.Put(ctx, testDataset, "discovery", output); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if _, present := got["workloads"]; present {
		t.Error("oversized workloads array should be stripped")
	}
	if n, ok := got["workloadsCount"].(float64); !ok || int(n) != 5 {
		t.Errorf("workloadsCount = %v, want 5", got["workloadsCount"])
	}
	if got["region"] != "us-east1" {
		t.Errorf("scalar field lost: region = %v", got["region"])
	}

	meta, err := c.Meta(ctx, testDataset, "discovery")
	if err != nil {
		t.Fatalf("Meta error = %v", err)
	}
	if meta == nil || !meta.Stripped {
		t.Error("metadata should record stripping")
	}
	if meta.Counts["workloads"] != 5 {
		t.Errorf("metadata count = %d, want 5", meta.Counts["workloads"])
	}

	// Below threshold: untouched.
	small := map[string]any{"workloads": workloads(2)}
	if err := c.Put(ctx, testDataset, "assessment", small); err != nil {
		t.Fatalf("Put(small) error = %v", err)
	}
	got, _ = c.Get(ctx, testDataset, "assessment", GetOptions{})
	if _, present := got["workloads"]; !present {
		t.Error("array below threshold should not be stripped")
	}
}

func TestCache_LightweightRead(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Threshold high enough that Put persists the full array.
	c, err := New(ms, Options{Threshold: func(string) int { return 100 }})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"workloads": workloads(5)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	// Rebuild with a low threshold: lightweight reads strip in memory.
	c, err = New(ms, Options{Threshold: func(string) int { return 3 }})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	light, err := c.Get(ctx, testDataset, "discovery", GetOptions{Lightweight: true})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if _, present := light["workloads"]; present {
		t.Error("lightweight read should strip the oversized array")
	}

	// The persisted copy is not mutated.
	full, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("full Get error = %v", err)
	}
	if _, present := full["workloads"]; !present {
		t.Error("persisted entry must keep the full array")
	}
}

func TestCache_MemoryPressureForcesStrippedReads(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Persist in full with a high threshold.
	writer, err := New(ms, Options{Threshold: func(string) int { return 100 }})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := writer.Put(ctx, testDataset, "discovery", map[string]any{"workloads": workloads(5)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	pressured := false
	reader, err := New(ms, Options{
		Threshold: func(string) int { return 3 },
		Pressure:  func() bool { return pressured },
	})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	got, _ := reader.Get(ctx, testDataset, "discovery", GetOptions{})
	if _, present := got["workloads"]; !present {
		t.Fatal("without pressure the read should return the full array")
	}

	pressured = true
	got, _ = reader.Get(ctx, testDataset, "discovery", GetOptions{})
	if _, present := got["workloads"]; present {
		t.Error("under memory pressure the read should be stripped")
	}
	if n, ok := got["workloadsCount"].(float64); !ok || int(n) != 5 {
		t.Errorf("workloadsCount = %v, want 5", got["workloadsCount"])
	}
}

func TestCache_VersionMismatchSelfHeals(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	// Store an entry with a stale format version directly.
	stale := Entry{Version: FormatVersion - 1, DatasetID: string(testDataset), StageID: "discovery",
		Output: map[string]any{"workloads": []any{}}}
	data, _ := json.Marshal(stale)
	if err := ms.Set(ctx, Key(testDataset, "discovery"), data); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got != nil {
		t.Error("stale-version entry should read as a miss")
	}
	// Entry deleted as a side effect.
	if _, err := ms.Get(ctx, Key(testDataset, "discovery")); err == nil {
		t.Error("corrupt entry should have been deleted")
	}
}

func TestCache_DatasetMismatchSelfHeals(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	wrong := Entry{Version: FormatVersion, DatasetID: "other-dataset", StageID: "discovery",
		Output: map[string]any{}}
	data, _ := json.Marshal(wrong)
	if err := ms.Set(ctx, Key(testDataset, "discovery"), data); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got != nil {
		t.Error("dataset-mismatch entry should read as a miss")
	}
	if _, err := ms.Get(ctx, Key(testDataset, "discovery")); err == nil {
		t.Error("mismatched entry should have been deleted")
	}
}

func TestCache_UndecodableEntrySelfHeals(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	if err := ms.Set(ctx, Key(testDataset, "discovery"), []byte("{not json")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got != nil {
		t.Error("undecodable entry should read as a miss")
	}
}

func TestCache_PersistentQuotaSurfaces(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	c, err := New(ms, Options{Threshold: func(string) int { return 100 }, MaxPutAttempts: 1})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	// The store rejects this key forever: the forced-strip retry also
	// fails and the failure surfaces as a stage-level error.
	ms.ErrOnKey = map[string]error{Key(testDataset, "discovery"): store.ErrQuotaExceeded}
	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"workloads": workloads(4)}); err == nil {
		t.Fatal("Put should fail while the quota error persists")
	}

	delete(ms.ErrOnKey, Key(testDataset, "discovery"))
	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"workloads": workloads(4)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}
}

func TestCache_QuotaRetryStripsBelowThreshold(t *testing.T) {
	ctx := context.Background()

	// Quota store: fails once, then accepts.
	qs := &quotaOnceStore{MemoryStore: store.NewMemoryStore()}
	c, err := New(qs, Options{Threshold: func(string) int { return 100 }, MaxPutAttempts: 2})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	// Array below threshold; without quota it would persist in full.
	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"workloads": workloads(4)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if _, present := got["workloads"]; present {
		t.Error("forced stripping should have removed the array even below threshold")
	}
	if n, ok := got["workloadsCount"].(float64); !ok || int(n) != 4 {
		t.Errorf("workloadsCount = %v, want 4", got["workloadsCount"])
	}
}

// quotaOnceStore rejects the first Set with a quota error.
type quotaOnceStore struct {
	*store.MemoryStore
	failed bool
}

func (s *quotaOnceStore) Set(ctx context.Context, key string, value []byte) error {
	if !s.failed {
		s.failed = true
		return store.ErrQuotaExceeded
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestCache_VerificationRetriesExhausted(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.DropWrites = true
	ctx := context.Background()

	c, err := New(ms, Options{Threshold: func(string) int { return 100 }, MaxPutAttempts: 2})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"a": float64(1)}); err == nil {
		t.Fatal("Put should fail when verification never succeeds")
	}
	if ms.WriteCount() != 2 {
		t.Errorf("WriteCount = %d, want 2 (bounded retries)", ms.WriteCount())
	}
}

func TestCache_PresentStages(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	all := []string{"discovery", "assessment", "strategy", "cost"}

	if err := c.Put(ctx, testDataset, "discovery", map[string]any{"n": float64(1)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if err := c.Put(ctx, testDataset, "strategy", map[string]any{"n": float64(2)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}

	present, err := c.PresentStages(ctx, testDataset, all)
	if err != nil {
		t.Fatalf("PresentStages error = %v", err)
	}
	want := []string{"discovery", "strategy"}
	if len(present) != len(want) {
		t.Fatalf("PresentStages = %v, want %v", present, want)
	}
	for i := range want {
		if present[i] != want[i] {
			t.Errorf("PresentStages[%d] = %s, want %s", i, present[i], want[i])
		}
	}
}

func TestCache_RemoveThenMiss(t *testing.T) {
	ms := store.NewMemoryStore()
	c := newTestCache(t, ms)
	ctx := context.Background()

	if err := c.Put(ctx, testDataset, "cost", map[string]any{"total": float64(10)}); err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if err := c.Remove(ctx, testDataset, "cost"); err != nil {
		t.Fatalf("Remove error = %v", err)
	}
	got, err := c.Get(ctx, testDataset, "cost", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if got != nil {
		t.Error("Get after Remove should miss")
	}
}

func TestCache_QuotaReadIsMiss(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	c := newTestCache(t, ms)

	if err := ms.Set(ctx, Key(testDataset, "discovery"), []byte("x")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ms.ErrOnKey = map[string]error{Key(testDataset, "discovery"): store.ErrQuotaExceeded}

	got, err := c.Get(ctx, testDataset, "discovery", GetOptions{})
	if err != nil {
		t.Fatalf("Get error = %v, want degraded nil", err)
	}
	if got != nil {
		t.Error("quota read failure should degrade to a miss")
	}
}
