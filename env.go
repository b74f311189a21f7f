package den

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/denkv/den/backend"
	"github.com/denkv/den/backend/mdbxkv"
)

// Defaults for Options zero values.
const (
	DefaultMaxReaders uint32 = 126
	DefaultMaxDBs     uint32 = 16
	DefaultMapSize    int64  = 1 << 30
)

// Options configures an environment at open time.
type Options struct {
	// MaxReaders caps concurrent read transactions.
	MaxReaders uint32
	// MaxDBs caps the number of named stores.
	MaxDBs uint32
	// MapSize caps the environment's total addressable bytes.
	MapSize int64
	// MakeDirIfNeeded creates the environment directory when absent.
	// When false, a missing directory fails with ErrDirectoryMissing.
	MakeDirIfNeeded bool
}

func (o Options) withDefaults() Options {
	if o.MaxReaders == 0 {
		o.MaxReaders = DefaultMaxReaders
	}
	if o.MaxDBs == 0 {
		o.MaxDBs = DefaultMaxDBs
	}
	if o.MapSize == 0 {
		o.MapSize = DefaultMapSize
	}
	return o
}

// Env is one open environment: a directory on disk holding any number of
// named, typed stores that all share one transaction domain. A path must be
// opened at most once per process: obtain environments through the Manager
// rather than calling New directly, unless the caller owns the path outright.
type Env struct {
	path string
	benv backend.Env

	mu     sync.Mutex
	kinds  map[string]StoreKind
	dbs    map[string]backend.Database
	closed bool
}

// New opens or creates an environment at path on the default mdbx backend.
func New(path string, opts Options) (*Env, error) {
	return NewWithBackend(path, opts, mdbxkv.New())
}

// NewWithBackend opens or creates an environment at path on the given
// backend.
func NewWithBackend(path string, opts Options, b backend.Backend) (*Env, error) {
	opts = opts.withDefaults()
	if !opts.MakeDirIfNeeded {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, wrapOp(ErrDirectoryMissing, "open environment", path, err)
		}
	}
	benv, err := b.Open(path, backend.EnvConfig{
		MaxReaders:      opts.MaxReaders,
		MaxDBs:          opts.MaxDBs,
		MapSize:         opts.MapSize,
		MakeDirIfNeeded: opts.MakeDirIfNeeded,
	})
	if err != nil {
		return nil, wrapBackend("open environment", path, err)
	}
	return &Env{
		path:  path,
		benv:  benv,
		kinds: make(map[string]StoreKind),
		dbs:   make(map[string]backend.Database),
	}, nil
}

// Path returns the environment's directory path.
func (e *Env) Path() string { return e.path }

// openStore opens or creates the named database and binds the name to kind.
// Idempotent for a (name, kind) pair; a name already bound to another kind
// fails with ErrKindMismatch instead of silently reinterpreting stored data.
func (e *Env) openStore(name string, kind StoreKind, opts StoreOptions) (backend.Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, NewError(ErrEnvClosed)
	}

	if bound, ok := e.kinds[name]; ok {
		if bound != kind {
			return nil, WrapError(ErrKindMismatch,
				fmt.Errorf("store %q is open as %s, requested %s", name, bound, kind))
		}
		return e.dbs[name], nil
	}

	db, err := e.benv.OpenDatabase(name, backend.DatabaseConfig{
		Create:     opts.Create,
		DupSort:    kind.dupSort(),
		IntegerKey: kind.integerKey(),
	})
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, wrapOp(ErrStoreNotFound, "open store", name, err)
		}
		return nil, wrapBackend("open store", name, err)
	}
	e.kinds[name] = kind
	e.dbs[name] = db
	return db, nil
}

// OpenSingle opens or creates a store holding one value per byte key.
func (e *Env) OpenSingle(name string, opts StoreOptions) (*SingleStore, error) {
	db, err := e.openStore(name, StoreSingle, opts)
	if err != nil {
		return nil, err
	}
	return &SingleStore{store{name: name, db: db}}, nil
}

// OpenMulti opens or creates a store holding any number of values per byte
// key.
func (e *Env) OpenMulti(name string, opts StoreOptions) (*MultiStore, error) {
	db, err := e.openStore(name, StoreMulti, opts)
	if err != nil {
		return nil, err
	}
	return &MultiStore{store{name: name, db: db}}, nil
}

// OpenInteger opens or creates a store holding one value per uint64 key.
func (e *Env) OpenInteger(name string, opts StoreOptions) (*IntegerStore, error) {
	db, err := e.openStore(name, StoreInteger, opts)
	if err != nil {
		return nil, err
	}
	return &IntegerStore{store{name: name, db: db}}, nil
}

// OpenIntegerMulti opens or creates a store holding any number of values per
// uint64 key.
func (e *Env) OpenIntegerMulti(name string, opts StoreOptions) (*IntegerMultiStore, error) {
	db, err := e.openStore(name, StoreIntegerMulti, opts)
	if err != nil {
		return nil, err
	}
	return &IntegerMultiStore{store{name: name, db: db}}, nil
}

// Read starts a read transaction: a consistent snapshot across every store
// in the environment. Never blocks; fails only on engine resource
// exhaustion, which is reported rather than retried.
func (e *Env) Read() (*Reader, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	txn, err := e.benv.BeginRead()
	if err != nil {
		return nil, wrapBackend("begin read on", e.path, err)
	}
	return newReader(txn, e.path), nil
}

// Write starts the environment's write transaction, blocking the calling
// goroutine until any currently active Writer commits or aborts.
func (e *Env) Write() (*Writer, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	txn, err := e.benv.BeginWrite()
	if err != nil {
		return nil, wrapBackend("begin write on", e.path, err)
	}
	return &Writer{txn: txn, path: e.path}, nil
}

// Sync flushes buffered writes to stable storage; when force is true the
// flush is synchronous.
func (e *Env) Sync(force bool) error {
	if err := e.live(); err != nil {
		return err
	}
	if err := e.benv.Sync(force); err != nil {
		return wrapBackend("sync", e.path, err)
	}
	return nil
}

// Stat reports engine statistics for the environment.
func (e *Env) Stat() (backend.Stat, error) {
	if err := e.live(); err != nil {
		return backend.Stat{}, err
	}
	st, err := e.benv.Stat()
	if err != nil {
		return backend.Stat{}, wrapBackend("stat", e.path, err)
	}
	return st, nil
}

// Info reports the environment's configuration and transaction state.
func (e *Env) Info() (backend.Info, error) {
	if err := e.live(); err != nil {
		return backend.Info{}, err
	}
	info, err := e.benv.Info()
	if err != nil {
		return backend.Info{}, wrapBackend("info", e.path, err)
	}
	return info, nil
}

// Close releases the environment. Every transaction must be finished first.
// Idempotent; typed operations on a closed environment fail with
// ErrEnvClosed.
func (e *Env) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	if err := e.benv.Close(); err != nil {
		return wrapBackend("close", e.path, err)
	}
	return nil
}

func (e *Env) live() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewError(ErrEnvClosed)
	}
	return nil
}
