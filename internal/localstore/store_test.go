package localstore

import (
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "local.env")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.Get(CurrencyKey); ok {
		t.Fatal("fresh store should be empty")
	}

	if err := s.Set(CurrencyKey, "EUR"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok := s.Get(CurrencyKey); !ok || v != "EUR" {
		t.Fatalf("got %q, %v; want EUR", v, ok)
	}

	// Simulated restart: a new store reads the same file.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok := s2.Get(CurrencyKey); !ok || v != "EUR" {
		t.Fatalf("after restart got %q, %v; want EUR", v, ok)
	}
}

func TestStoreDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "local.env"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set("theme", "dark"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete("theme"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("theme"); ok {
		t.Fatal("deleted key should be gone")
	}
}
