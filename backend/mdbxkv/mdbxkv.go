// Package mdbxkv adapts libmdbx (via erigontech/mdbx-go) to the den backend
// contract. This is den's default backend: the environment is a directory
// holding the engine's data file and lock file, named databases map to DBIs,
// multi-value stores map to DupSort DBIs, and MVCC, durability and the
// single-writer rule all come from the engine itself.
package mdbxkv

import (
	"fmt"
	"runtime"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/denkv/den/backend"
)

// Backend opens mdbx environments.
type Backend struct{}

// New returns the mdbx backend.
func New() *Backend { return &Backend{} }

type env struct {
	env  *mdbx.Env
	path string
}

type database struct {
	dbi mdbx.DBI
	cfg backend.DatabaseConfig
}

// Open opens or creates an mdbx environment at the directory path.
func (*Backend) Open(path string, cfg backend.EnvConfig) (backend.Env, error) {
	if err := backend.EnsureDir(path, cfg.MakeDirIfNeeded); err != nil {
		return nil, err
	}

	menv, err := mdbx.NewEnv(mdbx.Default)
	if err != nil {
		return nil, fmt.Errorf("mdbx: new env: %w", err)
	}
	if cfg.MaxDBs > 0 {
		if err := menv.SetOption(mdbx.OptMaxDB, uint64(cfg.MaxDBs)); err != nil {
			menv.Close()
			return nil, fmt.Errorf("mdbx: set maxdbs: %w", err)
		}
	}
	if cfg.MaxReaders > 0 {
		if err := menv.SetOption(mdbx.OptMaxReaders, uint64(cfg.MaxReaders)); err != nil {
			menv.Close()
			return nil, fmt.Errorf("mdbx: set maxreaders: %w", err)
		}
	}
	if cfg.MapSize > 0 {
		if err := menv.SetGeometry(-1, -1, int(cfg.MapSize), -1, -1, 4096); err != nil {
			menv.Close()
			return nil, fmt.Errorf("mdbx: set geometry: %w", err)
		}
	}

	if err := menv.Open(path, 0, 0o644); err != nil {
		menv.Close()
		return nil, fmt.Errorf("mdbx: open %q: %w", path, err)
	}
	return &env{env: menv, path: path}, nil
}

func (e *env) OpenDatabase(name string, cfg backend.DatabaseConfig) (backend.Database, error) {
	var flags uint
	if cfg.Create {
		flags |= mdbx.Create
	}
	if cfg.DupSort {
		flags |= mdbx.DupSort
	}
	// Integer keys arrive big-endian from the typed layer, so the plain
	// bytewise comparator already orders them; mdbx's native IntegerKey
	// mode wants machine byte order and is deliberately not set.

	var dbi mdbx.DBI
	open := func(txn *mdbx.Txn) error {
		var err error
		dbi, err = txn.OpenDBI(name, flags, nil, nil)
		return err
	}

	// Creating a DBI needs a write transaction; opening an existing one
	// only needs a read view.
	var err error
	if cfg.Create {
		err = e.update(open)
	} else {
		err = e.view(open)
	}
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, fmt.Errorf("database %q: %w", name, backend.ErrNotFound)
		}
		return nil, fmt.Errorf("mdbx: open dbi %q: %w", name, err)
	}
	return &database{dbi: dbi, cfg: cfg}, nil
}

// update runs fn in a write transaction on a locked OS thread, as mdbx
// requires for writers.
func (e *env) update(fn func(*mdbx.Txn) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	_, err = txn.Commit()
	return err
}

func (e *env) view(fn func(*mdbx.Txn) error) error {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

func (e *env) BeginRead() (backend.ReadTxn, error) {
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, fmt.Errorf("mdbx: begin read: %w", err)
	}
	return &readTxn{txn: txn}, nil
}

// BeginWrite starts the environment's write transaction. mdbx serializes
// writers internally, so this blocks while another writer is active. The
// calling goroutine is pinned to its OS thread until Commit or Abort, and
// all operations on the returned transaction must stay on this goroutine.
func (e *env) BeginWrite() (backend.WriteTxn, error) {
	runtime.LockOSThread()
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("mdbx: begin write: %w", err)
	}
	return &writeTxn{readTxn: readTxn{txn: txn}}, nil
}

func (e *env) Sync(force bool) error {
	return e.env.Sync(force, false)
}

func (e *env) Stat() (backend.Stat, error) {
	st, err := e.env.Stat()
	if err != nil {
		return backend.Stat{}, fmt.Errorf("mdbx: stat: %w", err)
	}
	return backend.Stat{
		PageSize:      uint32(st.PSize),
		Depth:         uint32(st.Depth),
		BranchPages:   uint64(st.BranchPages),
		LeafPages:     uint64(st.LeafPages),
		OverflowPages: uint64(st.OverflowPages),
		Entries:       uint64(st.Entries),
	}, nil
}

func (e *env) Info() (backend.Info, error) {
	info, err := e.env.Info(nil)
	if err != nil {
		return backend.Info{}, fmt.Errorf("mdbx: info: %w", err)
	}
	return backend.Info{
		MapSize:    int64(info.MapSize),
		LastTxnID:  uint64(info.LastTxnID),
		MaxReaders: uint32(info.MaxReaders),
		NumReaders: uint32(info.NumReaders),
	}, nil
}

func (e *env) Path() string { return e.path }

func (e *env) Close() error {
	e.env.Close()
	return nil
}

type readTxn struct {
	txn  *mdbx.Txn
	done bool
}

func (t *readTxn) Get(db backend.Database, key []byte) ([]byte, error) {
	val, err := t.txn.Get(db.(*database).dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (t *readTxn) Cursor(db backend.Database) (backend.Cursor, error) {
	cur, err := t.txn.OpenCursor(db.(*database).dbi)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

func (t *readTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
}

type writeTxn struct {
	readTxn
}

func (t *writeTxn) Put(db backend.Database, key, val []byte) error {
	return t.txn.Put(db.(*database).dbi, key, val, 0)
}

func (t *writeTxn) Delete(db backend.Database, key []byte) error {
	err := t.txn.Del(db.(*database).dbi, key, nil)
	if mdbx.IsNotFound(err) {
		return backend.ErrNotFound
	}
	return err
}

func (t *writeTxn) DeleteExact(db backend.Database, key, val []byte) error {
	d := db.(*database)
	if !d.cfg.DupSort {
		// Engines delete by key alone on plain databases; honor the
		// exact-pair contract by checking the stored value first.
		stored, err := t.txn.Get(d.dbi, key)
		if err != nil {
			if mdbx.IsNotFound(err) {
				return backend.ErrNotFound
			}
			return err
		}
		if string(stored) != string(val) {
			return backend.ErrNotFound
		}
		return t.txn.Del(d.dbi, key, nil)
	}
	err := t.txn.Del(d.dbi, key, val)
	if mdbx.IsNotFound(err) {
		return backend.ErrNotFound
	}
	return err
}

func (t *writeTxn) Clear(db backend.Database) error {
	return t.txn.Drop(db.(*database).dbi, false)
}

func (t *writeTxn) Commit() error {
	if t.done {
		return fmt.Errorf("mdbx: commit: transaction already finished")
	}
	t.done = true
	defer runtime.UnlockOSThread()
	_, err := t.txn.Commit()
	return err
}

func (t *writeTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
	runtime.UnlockOSThread()
}

type cursor struct {
	cur *mdbx.Cursor
}

func (c *cursor) First() ([]byte, []byte, error) {
	return c.get(nil, nil, mdbx.First)
}

func (c *cursor) Last() ([]byte, []byte, error) {
	return c.get(nil, nil, mdbx.Last)
}

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	return c.get(key, nil, mdbx.SetKey)
}

func (c *cursor) Next() ([]byte, []byte, error) {
	return c.get(nil, nil, mdbx.Next)
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	return c.get(nil, nil, mdbx.Prev)
}

func (c *cursor) NextDup() ([]byte, []byte, error) {
	return c.get(nil, nil, mdbx.NextDup)
}

func (c *cursor) get(setKey, setVal []byte, op uint) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(setKey, setVal, op)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil, backend.ErrNotFound
		}
		return nil, nil, err
	}
	return k, v, nil
}

func (c *cursor) Close() {
	c.cur.Close()
}
