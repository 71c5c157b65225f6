package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Fatalf("unexpected value %q", got)
	}
	ok, err := db.Has([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("expected key to exist: ok=%v err=%v", ok, err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("a"), []byte("3"))
	if batch.Len() != 2 {
		t.Fatalf("unexpected batch length %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("b")); ok {
		t.Fatalf("batch writes must not be visible before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}
	for key, want := range map[string]string{"a": "3", "b": "2"} {
		got, err := db.Get([]byte(key))
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("key %s: expected %q, got %q", key, want, got)
		}
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
