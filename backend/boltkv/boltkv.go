// Package boltkv adapts bbolt to the den backend contract. The environment
// is a directory holding a single data file; named databases map to top-level
// buckets. bbolt has no native duplicate-key support, so a multi-value
// database is emulated with one nested bucket per key: the duplicate values
// are stored as that bucket's keys, which makes them sorted and deduplicated
// exactly like an engine-native DupSort database.
package boltkv

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/denkv/den/backend"
)

// DataFileName is the single data file inside the environment directory.
const DataFileName = "data.db"

// Backend opens bbolt environments.
type Backend struct{}

// New returns the bbolt backend.
func New() *Backend { return &Backend{} }

type env struct {
	db   *bolt.DB
	path string
	cfg  backend.EnvConfig
}

type database struct {
	name []byte
	dup  bool
}

// Open opens or creates a bbolt environment at the directory path.
func (*Backend) Open(path string, cfg backend.EnvConfig) (backend.Env, error) {
	if err := backend.EnsureDir(path, cfg.MakeDirIfNeeded); err != nil {
		return nil, err
	}
	opts := &bolt.Options{}
	if cfg.MapSize > 0 {
		opts.InitialMmapSize = int(cfg.MapSize)
	}
	db, err := bolt.Open(filepath.Join(path, DataFileName), 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %q: %w", path, err)
	}
	return &env{db: db, path: path, cfg: cfg}, nil
}

func (e *env) OpenDatabase(name string, cfg backend.DatabaseConfig) (backend.Database, error) {
	bname := []byte(name)
	if cfg.Create {
		err := e.db.Update(func(tx *bolt.Tx) error {
			if tx.Bucket(bname) != nil {
				return nil
			}
			if e.cfg.MaxDBs > 0 {
				var n uint32
				_ = tx.ForEach(func([]byte, *bolt.Bucket) error {
					n++
					return nil
				})
				if n >= e.cfg.MaxDBs {
					return fmt.Errorf("database %q: %w", name, backend.ErrDBsFull)
				}
			}
			_, err := tx.CreateBucket(bname)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		err := e.db.View(func(tx *bolt.Tx) error {
			if tx.Bucket(bname) == nil {
				return fmt.Errorf("database %q: %w", name, backend.ErrNotFound)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return &database{name: bname, dup: cfg.DupSort}, nil
}

func (e *env) BeginRead() (backend.ReadTxn, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("bolt: begin read: %w", err)
	}
	return &readTxn{tx: tx}, nil
}

func (e *env) BeginWrite() (backend.WriteTxn, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("bolt: begin write: %w", err)
	}
	return &writeTxn{readTxn: readTxn{tx: tx}}, nil
}

func (e *env) Sync(force bool) error {
	return e.db.Sync()
}

func (e *env) Stat() (backend.Stat, error) {
	var st backend.Stat
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, b *bolt.Bucket) error {
			bs := b.Stats()
			if uint32(bs.Depth) > st.Depth {
				st.Depth = uint32(bs.Depth)
			}
			st.BranchPages += uint64(bs.BranchPageN)
			st.LeafPages += uint64(bs.LeafPageN)
			st.Entries += uint64(bs.KeyN)
			return nil
		})
	})
	if err != nil {
		return backend.Stat{}, fmt.Errorf("bolt: stat: %w", err)
	}
	st.PageSize = uint32(e.db.Info().PageSize)
	return st, nil
}

func (e *env) Info() (backend.Info, error) {
	var lastTxn uint64
	err := e.db.View(func(tx *bolt.Tx) error {
		lastTxn = uint64(tx.ID())
		return nil
	})
	if err != nil {
		return backend.Info{}, fmt.Errorf("bolt: info: %w", err)
	}
	return backend.Info{
		MapSize:    e.cfg.MapSize,
		LastTxnID:  lastTxn,
		MaxReaders: e.cfg.MaxReaders,
		NumReaders: uint32(e.db.Stats().OpenTxN),
	}, nil
}

func (e *env) Path() string { return e.path }

func (e *env) Close() error {
	return e.db.Close()
}

type readTxn struct {
	tx   *bolt.Tx
	done bool
}

func (t *readTxn) bucket(db backend.Database) (*bolt.Bucket, *database, error) {
	d := db.(*database)
	b := t.tx.Bucket(d.name)
	if b == nil {
		return nil, nil, fmt.Errorf("database %q: %w", d.name, backend.ErrNotFound)
	}
	return b, d, nil
}

func (t *readTxn) Get(db backend.Database, key []byte) ([]byte, error) {
	b, d, err := t.bucket(db)
	if err != nil {
		return nil, err
	}
	if !d.dup {
		v := b.Get(key)
		if v == nil {
			return nil, backend.ErrNotFound
		}
		return v, nil
	}
	kb := b.Bucket(key)
	if kb == nil {
		return nil, backend.ErrNotFound
	}
	v, _ := kb.Cursor().First()
	if v == nil {
		return nil, backend.ErrNotFound
	}
	return v, nil
}

func (t *readTxn) Cursor(db backend.Database) (backend.Cursor, error) {
	b, d, err := t.bucket(db)
	if err != nil {
		return nil, err
	}
	if !d.dup {
		return &cursor{outer: b.Cursor()}, nil
	}
	return &dupCursor{bucket: b, outer: b.Cursor()}, nil
}

func (t *readTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}

type writeTxn struct {
	readTxn
}

func (t *writeTxn) Put(db backend.Database, key, val []byte) error {
	b, d, err := t.bucket(db)
	if err != nil {
		return err
	}
	if !d.dup {
		return b.Put(key, val)
	}
	kb, err := b.CreateBucketIfNotExists(key)
	if err != nil {
		return err
	}
	return kb.Put(val, []byte{})
}

func (t *writeTxn) Delete(db backend.Database, key []byte) error {
	b, d, err := t.bucket(db)
	if err != nil {
		return err
	}
	if !d.dup {
		if b.Get(key) == nil {
			return backend.ErrNotFound
		}
		return b.Delete(key)
	}
	if b.Bucket(key) == nil {
		return backend.ErrNotFound
	}
	return b.DeleteBucket(key)
}

func (t *writeTxn) DeleteExact(db backend.Database, key, val []byte) error {
	b, d, err := t.bucket(db)
	if err != nil {
		return err
	}
	if !d.dup {
		stored := b.Get(key)
		if stored == nil || !bytes.Equal(stored, val) {
			return backend.ErrNotFound
		}
		return b.Delete(key)
	}
	kb := b.Bucket(key)
	if kb == nil {
		return backend.ErrNotFound
	}
	k, _ := kb.Cursor().Seek(val)
	if !bytes.Equal(k, val) {
		return backend.ErrNotFound
	}
	if err := kb.Delete(val); err != nil {
		return err
	}
	// Drop the per-key bucket once its last duplicate is gone so the key
	// reads as absent, matching engine-native DupSort behavior.
	if k, _ := kb.Cursor().First(); k == nil {
		return b.DeleteBucket(key)
	}
	return nil
}

func (t *writeTxn) Clear(db backend.Database) error {
	d := db.(*database)
	if err := t.tx.DeleteBucket(d.name); err != nil {
		return err
	}
	_, err := t.tx.CreateBucket(d.name)
	return err
}

func (t *writeTxn) Commit() error {
	if t.done {
		return fmt.Errorf("bolt: commit: transaction already finished")
	}
	t.done = true
	return t.tx.Commit()
}

// cursor iterates a plain database.
type cursor struct {
	outer      *bolt.Cursor
	positioned bool
	closed     bool
}

func (c *cursor) First() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, v := c.outer.First()
	if k == nil {
		return nil, nil, backend.ErrNotFound
	}
	c.positioned = true
	return k, v, nil
}

func (c *cursor) Last() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, v := c.outer.Last()
	if k == nil {
		return nil, nil, backend.ErrNotFound
	}
	c.positioned = true
	return k, v, nil
}

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, v := c.outer.Seek(key)
	if !bytes.Equal(k, key) {
		return nil, nil, backend.ErrNotFound
	}
	c.positioned = true
	return k, v, nil
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	if !c.positioned {
		return c.First()
	}
	k, v := c.outer.Next()
	if k == nil {
		return nil, nil, backend.ErrNotFound
	}
	return k, v, nil
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	if !c.positioned {
		return c.Last()
	}
	k, v := c.outer.Prev()
	if k == nil {
		return nil, nil, backend.ErrNotFound
	}
	return k, v, nil
}

func (c *cursor) NextDup() ([]byte, []byte, error) {
	// Plain databases hold one value per key.
	return nil, nil, backend.ErrNotFound
}

func (c *cursor) Close() { c.closed = true }

// dupCursor iterates an emulated DupSort database: the outer cursor walks
// keys (nested buckets), the inner cursor walks one key's duplicate values.
type dupCursor struct {
	bucket *bolt.Bucket
	outer  *bolt.Cursor
	inner  *bolt.Cursor
	key    []byte
	closed bool
}

// descend opens the inner cursor for the key at the outer position, skipping
// anything that is not a per-key bucket.
func (c *dupCursor) descend(k []byte) ([]byte, []byte, error) {
	for k != nil {
		if kb := c.bucket.Bucket(k); kb != nil {
			inner := kb.Cursor()
			if v, _ := inner.First(); v != nil {
				c.inner = inner
				c.key = k
				return k, v, nil
			}
		}
		k, _ = c.outer.Next()
	}
	return nil, nil, backend.ErrNotFound
}

// descendLast is descend's mirror image: it opens the inner cursor at the
// last duplicate of the key at the outer position, walking outward backwards.
func (c *dupCursor) descendLast(k []byte) ([]byte, []byte, error) {
	for k != nil {
		if kb := c.bucket.Bucket(k); kb != nil {
			inner := kb.Cursor()
			if v, _ := inner.Last(); v != nil {
				c.inner = inner
				c.key = k
				return k, v, nil
			}
		}
		k, _ = c.outer.Prev()
	}
	return nil, nil, backend.ErrNotFound
}

func (c *dupCursor) First() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, _ := c.outer.First()
	return c.descend(k)
}

func (c *dupCursor) Last() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, _ := c.outer.Last()
	return c.descendLast(k)
}

func (c *dupCursor) Seek(key []byte) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	k, _ := c.outer.Seek(key)
	if !bytes.Equal(k, key) {
		return nil, nil, backend.ErrNotFound
	}
	return c.descend(k)
}

func (c *dupCursor) Next() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	if c.inner == nil {
		return c.First()
	}
	if v, _ := c.inner.Next(); v != nil {
		return c.key, v, nil
	}
	k, _ := c.outer.Next()
	return c.descend(k)
}

func (c *dupCursor) Prev() ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, backend.ErrNotFound
	}
	if c.inner == nil {
		return c.Last()
	}
	if v, _ := c.inner.Prev(); v != nil {
		return c.key, v, nil
	}
	k, _ := c.outer.Prev()
	return c.descendLast(k)
}

func (c *dupCursor) NextDup() ([]byte, []byte, error) {
	if c.closed || c.inner == nil {
		return nil, nil, backend.ErrNotFound
	}
	v, _ := c.inner.Next()
	if v == nil {
		return nil, nil, backend.ErrNotFound
	}
	return c.key, v, nil
}

func (c *dupCursor) Close() {
	c.closed = true
	c.inner = nil
}
