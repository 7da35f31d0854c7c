package storage

import (
	"errors"
	"testing"
)

type sample struct {
	Name  string
	Value uint64
}

func TestMemDBGetMissing(t *testing.T) {
	db := NewMemDB()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	ok, err := db.Has([]byte("missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
}

func TestKVStoreRoundTrip(t *testing.T) {
	store := NewKVStore(NewMemDB())
	in := sample{Name: "alpha", Value: 42}
	if err := store.KVPut([]byte("k"), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out sample
	ok, err := store.KVGet([]byte("k"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || out != in {
		t.Fatalf("round trip failed: %+v", out)
	}
	ok, err = store.KVGet([]byte("absent"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected absent key")
	}
}

func TestKVStoreAppendList(t *testing.T) {
	store := NewKVStore(NewMemDB())
	var empty [][]byte
	if err := store.KVGetList([]byte("ops"), &empty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(empty))
	}

	if err := store.KVAppend([]byte("ops"), []byte("one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.KVAppend([]byte("ops"), []byte("two")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var list [][]byte
	if err := store.KVGetList([]byte("ops"), &list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "one" || string(list[1]) != "two" {
		t.Fatalf("list not preserved: %q", list)
	}
}
