// Package store tests for the durable key/value stores.
package store

import (
	"bytes"
	"testing"

	"github.com/tablekit/ordersync/internal/errors"
)

// storeUnderTest lets both backends share one conformance suite.
type storeUnderTest struct {
	name string
	open func(t *testing.T) Store
}

func backends(t *testing.T) []storeUnderTest {
	return []storeUnderTest{
		{
			name: "memory",
			open: func(t *testing.T) Store {
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQLite(t.TempDir())
				if err != nil {
					t.Fatalf("OpenSQLite failed: %v", err)
				}
				return s
			},
		},
	}
}

// TestStore_PutGet verifies round-trip storage.
func TestStore_PutGet(t *testing.T) {
	for _, backend := range backends(t) {
		t.Run(backend.name, func(t *testing.T) {
			s := backend.open(t)
			defer s.Close()

			if err := s.Put("queue/item-1", []byte("payload")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			got, err := s.Get("queue/item-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !bytes.Equal(got, []byte("payload")) {
				t.Errorf("Get = %q, want 'payload'", got)
			}
		})
	}
}

// TestStore_GetMissing verifies ErrNotFound for absent keys.
func TestStore_GetMissing(t *testing.T) {
	for _, backend := range backends(t) {
		t.Run(backend.name, func(t *testing.T) {
			s := backend.open(t)
			defer s.Close()

			_, err := s.Get("no-such-key")
			if !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("Get missing key error = %v, want NOT_FOUND", err)
			}
		})
	}
}

// TestStore_Overwrite verifies Put replaces existing values.
func TestStore_Overwrite(t *testing.T) {
	for _, backend := range backends(t) {
		t.Run(backend.name, func(t *testing.T) {
			s := backend.open(t)
			defer s.Close()

			s.Put("k", []byte("v1"))
			s.Put("k", []byte("v2"))

			got, err := s.Get("k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("Get = %q, want 'v2'", got)
			}
		})
	}
}

// TestStore_Delete verifies deletion, including of missing keys.
func TestStore_Delete(t *testing.T) {
	for _, backend := range backends(t) {
		t.Run(backend.name, func(t *testing.T) {
			s := backend.open(t)
			defer s.Close()

			s.Put("k", []byte("v"))
			if err := s.Delete("k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}

			if _, err := s.Get("k"); !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("Get after delete = %v, want NOT_FOUND", err)
			}

			// Deleting a missing key is not an error
			if err := s.Delete("k"); err != nil {
				t.Errorf("Delete of missing key = %v, want nil", err)
			}
		})
	}
}

// TestStore_List verifies prefix scans.
func TestStore_List(t *testing.T) {
	for _, backend := range backends(t) {
		t.Run(backend.name, func(t *testing.T) {
			s := backend.open(t)
			defer s.Close()

			s.Put("queue/item-1", []byte("a"))
			s.Put("queue/item-2", []byte("b"))
			s.Put("cache/menu", []byte("c"))

			got, err := s.List("queue/")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}

			if len(got) != 2 {
				t.Fatalf("List returned %d keys, want 2", len(got))
			}
			if string(got["queue/item-1"]) != "a" {
				t.Errorf("queue/item-1 = %q, want 'a'", got["queue/item-1"])
			}
			if _, ok := got["cache/menu"]; ok {
				t.Error("List should not return keys outside the prefix")
			}
		})
	}
}

// TestSQLiteStore_survivesReopen verifies durability across restarts.
func TestSQLiteStore_survivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Put("queue/item-1", []byte("survives")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("queue/item-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "survives" {
		t.Errorf("Get = %q, want 'survives'", got)
	}
}

// TestSQLiteStore_emptyKey verifies empty keys are rejected.
func TestSQLiteStore_emptyKey(t *testing.T) {
	s, err := OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	if err := s.Put("  ", []byte("v")); !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("Put empty key = %v, want INVALID_INPUT", err)
	}
}

// TestMemoryStore_failureInjection verifies write failure simulation.
func TestMemoryStore_failureInjection(t *testing.T) {
	s := NewMemoryStore()
	s.Put("k", []byte("v"))

	s.FailWrites = true

	if err := s.Put("k2", []byte("v")); !errors.Is(err, errors.ErrStorage) {
		t.Errorf("Put with FailWrites = %v, want STORAGE_ERROR", err)
	}
	if err := s.Delete("k"); !errors.Is(err, errors.ErrStorage) {
		t.Errorf("Delete with FailWrites = %v, want STORAGE_ERROR", err)
	}

	// Reads still work
	if _, err := s.Get("k"); err != nil {
		t.Errorf("Get with FailWrites = %v, want nil", err)
	}
}

// TestMemoryStore_isolation verifies returned slices are copies.
func TestMemoryStore_isolation(t *testing.T) {
	s := NewMemoryStore()
	original := []byte("value")
	s.Put("k", original)

	got, _ := s.Get("k")
	got[0] = 'X'

	again, _ := s.Get("k")
	if string(again) != "value" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}
