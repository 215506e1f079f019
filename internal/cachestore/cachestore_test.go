package cachestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadWriteExpiryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := filepath.Join(dir, "blob.json")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	type payload struct{ Value string }
	if err := s.WriteWithExpiry(path, "data", payload{Value: "x"}, time.Hour, now); err != nil {
		t.Fatalf("WriteWithExpiry: %v", err)
	}

	var got payload
	ok, err := s.ReadWithExpiry(path, "data", time.Hour, now.Add(30*time.Minute), &got)
	if err != nil || !ok {
		t.Fatalf("ReadWithExpiry hit expected: ok=%v err=%v", ok, err)
	}
	if got.Value != "x" {
		t.Fatalf("Value = %q, want x", got.Value)
	}
}

func TestReadWithExpiryMissesAfterTTL(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := filepath.Join(dir, "blob.json")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.WriteWithExpiry(path, "data", "x", time.Hour, now); err != nil {
		t.Fatal(err)
	}

	var got string
	ok, err := s.ReadWithExpiry(path, "data", time.Hour, now.Add(2*time.Hour), &got)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss after TTL elapsed")
	}
}

func TestReadWithExpiryMissingFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	var got string
	ok, err := s.ReadWithExpiry(filepath.Join(dir, "nope.json"), "data", time.Hour, time.Now(), &got)
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestReadWithExpiryMalformedJSONIsMiss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(dir)
	var got string
	ok, err := s.ReadWithExpiry(path, "data", time.Hour, time.Now(), &got)
	if err != nil || ok {
		t.Fatalf("expected clean miss on malformed JSON, got ok=%v err=%v", ok, err)
	}
}

func TestForceRefreshCausesMiss(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	path := filepath.Join(dir, "blob.json")
	now := time.Now()
	if err := s.WriteWithExpiry(path, "data", "x", time.Hour, now); err != nil {
		t.Fatal(err)
	}
	s.ForceRefresh(path)

	var got string
	ok, _ := s.ReadWithExpiry(path, "data", time.Hour, now, &got)
	if ok {
		t.Fatal("expected miss after ForceRefresh")
	}
}

func TestReleasesCacheKeyStableUnderParamOrder(t *testing.T) {
	k1 := ReleasesCacheKey("https://api.github.com/x", map[string]string{"a": "1", "b": "2"})
	k2 := ReleasesCacheKey("https://api.github.com/x", map[string]string{"b": "2", "a": "1"})
	if k1 != k2 {
		t.Errorf("cache key not stable under param order: %q vs %q", k1, k2)
	}
}
