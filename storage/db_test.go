package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDBPutGetDelete(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	value, err := db.Get([]byte("alpha"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "one" {
		t.Fatalf("unexpected value %q", value)
	}
	if err := db.Delete([]byte("alpha")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := db.Get([]byte("alpha")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("k"), []byte("abc")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	first, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	first[0] = 'z'
	second, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if string(second) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", second)
	}
}

func TestMemDBIteratePrefixSortedAndScoped(t *testing.T) {
	db := NewMemDB()
	pairs := map[string]string{
		"asset/003": "c",
		"asset/001": "a",
		"asset/002": "b",
		"param/fee": "250",
	}
	for k, v := range pairs {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("put %s failed: %v", k, err)
		}
	}
	var keys []string
	if err := db.IteratePrefix([]byte("asset/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	}); err != nil {
		t.Fatalf("iterate failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys under prefix, got %d", len(keys))
	}
	for i, want := range []string{"asset/001", "asset/002", "asset/003"} {
		if keys[i] != want {
			t.Fatalf("key %d: expected %s, got %s", i, want, keys[i])
		}
	}
}

func TestMemDBIteratePrefixAbortsOnError(t *testing.T) {
	db := NewMemDB()
	for _, k := range []string{"x/1", "x/2", "x/3"} {
		if err := db.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	stop := errors.New("stop")
	visited := 0
	err := db.IteratePrefix([]byte("x/"), func(key, value []byte) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected iteration error to propagate, got %v", err)
	}
	if visited != 2 {
		t.Fatalf("expected iteration to abort after 2 visits, got %d", visited)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()
	if err := db.Put([]byte("auction/1"), []byte("open")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	value, err := db.Get([]byte("auction/1"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "open" {
		t.Fatalf("unexpected value %q", value)
	}
	if _, err := db.Get([]byte("auction/2")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for missing key, got %v", err)
	}
	if err := db.Delete([]byte("auction/1")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := db.Get([]byte("auction/1")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}
