package boltkv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/denkv/den/backend"
)

func openTestEnv(t *testing.T, dir string) backend.Env {
	t.Helper()
	env, err := New().Open(dir, backend.EnvConfig{MakeDirIfNeeded: true})
	if err != nil {
		t.Fatalf("open env: %v", err)
	}
	return env
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	env := openTestEnv(t, dir)
	db, err := env.OpenDatabase("d", backend.DatabaseConfig{Create: true})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	w, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := w.Put(db, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	env = openTestEnv(t, dir)
	defer env.Close()
	if _, err := os.Stat(filepath.Join(dir, DataFileName)); err != nil {
		t.Fatalf("data file missing: %v", err)
	}
	db, err = env.OpenDatabase("d", backend.DatabaseConfig{})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	r, err := env.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer r.Abort()
	got, err := r.Get(db, []byte("k"))
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get = %q, want %q", got, "v")
	}
}

func TestDupEmulation(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	env := openTestEnv(t, dir)
	defer env.Close()
	db, err := env.OpenDatabase("d", backend.DatabaseConfig{Create: true, DupSort: true})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	key := []byte("k")
	w, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	for _, v := range []string{"c", "a", "b", "a"} {
		if err := w.Put(db, key, []byte(v)); err != nil {
			t.Fatalf("put %q: %v", v, err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r, err := env.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer r.Abort()

	// Duplicates come back sorted and deduplicated.
	cur, err := r.Cursor(db)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer cur.Close()
	var dups []string
	_, v, err := cur.Seek(key)
	for err == nil {
		dups = append(dups, string(v))
		_, v, err = cur.NextDup()
	}
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(dups) != len(want) {
		t.Fatalf("dups = %v, want %v", dups, want)
	}
	for i := range want {
		if dups[i] != want[i] {
			t.Fatalf("dup %d = %q, want %q", i, dups[i], want[i])
		}
	}

	first, err := r.Get(db, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(first, []byte("a")) {
		t.Fatalf("first dup = %q, want %q", first, "a")
	}
}

func TestDupDeleteExactDropsEmptyKey(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	env := openTestEnv(t, dir)
	defer env.Close()
	db, err := env.OpenDatabase("d", backend.DatabaseConfig{Create: true, DupSort: true})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	key := []byte("k")
	w, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := w.Put(db, key, []byte("only")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := w.DeleteExact(db, key, []byte("only")); err != nil {
		t.Fatalf("delete exact: %v", err)
	}
	if _, err := w.Get(db, key); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("key with no dups left reads as %v, want ErrNotFound", err)
	}
	if err := w.DeleteExact(db, key, []byte("only")); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("delete exact on absent key: %v, want ErrNotFound", err)
	}
	w.Abort()
}

func TestDupDeleteRemovesAll(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	env := openTestEnv(t, dir)
	defer env.Close()
	db, err := env.OpenDatabase("d", backend.DatabaseConfig{Create: true, DupSort: true})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	key := []byte("k")
	w, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if err := w.Put(db, key, []byte(v)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := w.Delete(db, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := w.Get(db, key); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("deleted key reads as %v, want ErrNotFound", err)
	}
	w.Abort()
}

func TestMaxDBsLimit(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	env, err := New().Open(dir, backend.EnvConfig{MaxDBs: 1, MakeDirIfNeeded: true})
	if err != nil {
		t.Fatalf("open env: %v", err)
	}
	defer env.Close()
	if _, err := env.OpenDatabase("a", backend.DatabaseConfig{Create: true}); err != nil {
		t.Fatalf("open database: %v", err)
	}
	_, err = env.OpenDatabase("b", backend.DatabaseConfig{Create: true})
	if !errors.Is(err, backend.ErrDBsFull) {
		t.Fatalf("second database: %v, want ErrDBsFull", err)
	}
}

func TestMissingDirectory(t *testing.T) {
	dir, err := os.MkdirTemp("", "boltkv-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	_, err = New().Open(filepath.Join(dir, "nope"), backend.EnvConfig{})
	if err == nil {
		t.Fatal("open on missing directory succeeded")
	}
}
