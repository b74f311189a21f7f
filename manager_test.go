package den

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/denkv/den/backend/boltkv"
	"github.com/denkv/den/backend/memkv"
)

func memFactory(path string) (*Env, error) {
	return NewWithBackend(path, Options{}, memkv.New())
}

func TestManagerGetOrCreate(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	m := NewManager()
	defer m.CloseAll()

	env1, err := m.GetOrCreate(dir, memFactory)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	env2, err := m.GetOrCreate(dir, memFactory)
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if env1 != env2 {
		t.Fatal("same path yielded two environments")
	}

	got, err := m.Get(dir)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != env1 {
		t.Fatal("Get returned a different environment")
	}
}

func TestManagerCanonicalizesPaths(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	m := NewManager()
	defer m.CloseAll()

	env1, err := m.GetOrCreate(dir, memFactory)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	// A messier spelling of the same directory.
	alias := filepath.Join(dir, ".", "..", filepath.Base(dir))
	env2, err := m.GetOrCreate(alias, memFactory)
	if err != nil {
		t.Fatalf("get or create alias: %v", err)
	}
	if env1 != env2 {
		t.Fatal("two spellings of one path yielded two environments")
	}
}

func TestManagerConcurrentGetOrCreate(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	m := NewManager()
	defer m.CloseAll()

	var calls atomic.Int32
	factory := func(path string) (*Env, error) {
		calls.Add(1)
		return memFactory(path)
	}

	const n = 16
	envs := make([]*Env, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := m.GetOrCreate(dir, factory)
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			envs[i] = env
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("factory ran %d times, want 1", got)
	}
	for i := 1; i < n; i++ {
		if envs[i] != envs[0] {
			t.Fatal("concurrent callers got different environments")
		}
	}
}

func TestManagerCloseAndRemove(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	m := NewManager()
	env1, err := m.GetOrCreate(dir, memFactory)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := m.CloseAndRemove(dir); err != nil {
		t.Fatalf("close and remove: %v", err)
	}
	if _, err := env1.Read(); Code(err) != ErrEnvClosed {
		t.Fatalf("read on removed env: %v, want ErrEnvClosed", err)
	}
	// Removing an unknown path is a no-op.
	if err := m.CloseAndRemove(dir); err != nil {
		t.Fatalf("second close and remove: %v", err)
	}

	env2, err := m.GetOrCreate(dir, memFactory)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m.CloseAll()
	if env2 == env1 {
		t.Fatal("reopen returned the closed environment")
	}
}

func TestManagerFactoryError(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	m := NewManager()
	defer m.CloseAll()

	missing := filepath.Join(dir, "nope", "deeper")
	_, err = m.GetOrCreate(missing, memFactory)
	if Code(err) != ErrDirectoryMissing {
		t.Fatalf("factory error: %v, want ErrDirectoryMissing", err)
	}
	// The failure must not be cached.
	env, err := m.Get(missing)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if env != nil {
		t.Fatal("failed open left an environment in the manager")
	}
}

func TestPersistenceAcrossReacquisition(t *testing.T) {
	dir, err := os.MkdirTemp("", "den-manager-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	boltFactory := func(path string) (*Env, error) {
		return NewWithBackend(path, Options{}, boltkv.New())
	}

	m := NewManager()
	env, err := m.GetOrCreate(dir, boltFactory)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	store, err := env.OpenSingle("s", StoreOptions{Create: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	w, err := env.Write()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Put(w, []byte("k"), I64(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := m.CloseAndRemove(dir); err != nil {
		t.Fatalf("close and remove: %v", err)
	}

	env, err = m.GetOrCreate(dir, boltFactory)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m.CloseAll()
	store, err = env.OpenSingle("s", StoreOptions{})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	r, err := env.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer r.Abort()
	v, err := store.Get(r, []byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, _ := v.I64(); n != 42 {
		t.Fatalf("get after reopen = %s, want I64(42)", v)
	}
}

func TestSingletonManager(t *testing.T) {
	if Singleton() == nil {
		t.Fatal("no singleton manager")
	}
	if Singleton() != Singleton() {
		t.Fatal("singleton manager is not stable")
	}
}
