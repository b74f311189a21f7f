// Package memkv is an ephemeral in-memory implementation of the den backend
// contract, built on copy-on-write B-tree clones. Nothing is written to disk
// and an environment's contents vanish when it is closed, which makes it the
// backend of choice for tests and for callers that want den's typing and
// transaction semantics over a scratch store.
//
// Snapshot isolation comes from google/btree's cheap Clone: a writer clones
// each tree before its first mutation and the commit swaps the clone in under
// the environment lock, so readers keep iterating the trees they captured at
// begin time. The MaxReaders, MaxDBs and MapSize limits are enforced here
// (unlike most embedded engines' defaults) so resource-exhaustion paths are
// exercisable without a real engine.
package memkv

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/denkv/den/backend"
)

const btreeDegree = 32

type entry struct {
	key []byte
	val []byte
}

// lessByKey orders a plain database: one entry per key.
func lessByKey(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// lessByKeyVal orders a DupSort database: entries are (key, value) pairs,
// duplicates sorted by value bytes.
func lessByKeyVal(a, b entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.val, b.val) < 0
}

// Backend opens in-memory environments. Every Open call yields a fresh,
// empty environment; the Manager above this layer is what makes a path map
// to one shared instance.
type Backend struct{}

// New returns the in-memory backend.
func New() *Backend { return &Backend{} }

type database struct {
	name string
	dup  bool
}

type env struct {
	path string
	cfg  backend.EnvConfig

	mu      sync.Mutex // guards dbs, trees, readers, usedBytes, txnID, closed
	dbs     map[string]*database
	trees   map[string]*btree.BTreeG[entry]
	readers uint32
	used    int64
	txnID   uint64
	closed  bool

	writeMu sync.Mutex // the single-writer rule
}

// Open creates a fresh empty environment. The directory policy is honored so
// configuration errors surface exactly as they would on a disk-backed
// backend, even though nothing is stored there.
func (*Backend) Open(path string, cfg backend.EnvConfig) (backend.Env, error) {
	if err := backend.EnsureDir(path, cfg.MakeDirIfNeeded); err != nil {
		return nil, err
	}
	return &env{
		path:  path,
		cfg:   cfg,
		dbs:   make(map[string]*database),
		trees: make(map[string]*btree.BTreeG[entry]),
	}, nil
}

func (e *env) OpenDatabase(name string, cfg backend.DatabaseConfig) (backend.Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("memkv: environment is closed")
	}

	if db, ok := e.dbs[name]; ok {
		if db.dup != cfg.DupSort {
			return nil, fmt.Errorf("memkv: database %q exists with incompatible flags", name)
		}
		return db, nil
	}
	if !cfg.Create {
		return nil, fmt.Errorf("database %q: %w", name, backend.ErrNotFound)
	}
	if e.cfg.MaxDBs > 0 && uint32(len(e.dbs)) >= e.cfg.MaxDBs {
		return nil, fmt.Errorf("database %q: %w", name, backend.ErrDBsFull)
	}

	db := &database{name: name, dup: cfg.DupSort}
	e.dbs[name] = db
	e.trees[name] = btree.NewG(btreeDegree, lessFor(cfg.DupSort))
	return db, nil
}

func lessFor(dup bool) btree.LessFunc[entry] {
	if dup {
		return lessByKeyVal
	}
	return lessByKey
}

func (e *env) BeginRead() (backend.ReadTxn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("memkv: environment is closed")
	}
	if e.cfg.MaxReaders > 0 && e.readers >= e.cfg.MaxReaders {
		return nil, fmt.Errorf("begin read: %w", backend.ErrReadersFull)
	}
	e.readers++

	// Capturing the tree pointers is the whole snapshot: writers clone
	// before mutating, so these trees never change underneath us.
	snap := make(map[string]*btree.BTreeG[entry], len(e.trees))
	for name, t := range e.trees {
		snap[name] = t
	}
	return &readTxn{env: e, snap: snap}, nil
}

func (e *env) BeginWrite() (backend.WriteTxn, error) {
	e.writeMu.Lock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.writeMu.Unlock()
		return nil, fmt.Errorf("memkv: environment is closed")
	}
	base := make(map[string]*btree.BTreeG[entry], len(e.trees))
	for name, t := range e.trees {
		base[name] = t
	}
	return &writeTxn{
		env:   e,
		base:  base,
		dirty: make(map[string]*btree.BTreeG[entry]),
	}, nil
}

func (e *env) Sync(force bool) error { return nil }

func (e *env) Stat() (backend.Stat, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var entries uint64
	for _, t := range e.trees {
		entries += uint64(t.Len())
	}
	return backend.Stat{
		PageSize: 4096,
		Depth:    1,
		Entries:  entries,
	}, nil
}

func (e *env) Info() (backend.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return backend.Info{
		MapSize:    e.cfg.MapSize,
		LastTxnID:  e.txnID,
		MaxReaders: e.cfg.MaxReaders,
		NumReaders: e.readers,
	}, nil
}

func (e *env) Path() string { return e.path }

func (e *env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.dbs = nil
	e.trees = nil
	return nil
}

type readTxn struct {
	env  *env
	snap map[string]*btree.BTreeG[entry]
	done bool
}

func (t *readTxn) tree(db backend.Database) (*btree.BTreeG[entry], *database, error) {
	if t.done {
		return nil, nil, fmt.Errorf("memkv: transaction already finished")
	}
	d := db.(*database)
	tr, ok := t.snap[d.name]
	if !ok {
		// Database created after this snapshot began: it has no
		// entries from this transaction's point of view.
		return nil, d, nil
	}
	return tr, d, nil
}

func (t *readTxn) Get(db backend.Database, key []byte) ([]byte, error) {
	tr, d, err := t.tree(db)
	if err != nil {
		return nil, err
	}
	return getFrom(tr, d, key)
}

func (t *readTxn) Cursor(db backend.Database) (backend.Cursor, error) {
	tr, d, err := t.tree(db)
	if err != nil {
		return nil, err
	}
	return &cursor{tree: tr, dup: d.dup}, nil
}

func (t *readTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.env.mu.Lock()
	t.env.readers--
	t.env.mu.Unlock()
}

func getFrom(tr *btree.BTreeG[entry], d *database, key []byte) ([]byte, error) {
	if tr == nil {
		return nil, backend.ErrNotFound
	}
	if !d.dup {
		e, ok := tr.Get(entry{key: key})
		if !ok {
			return nil, backend.ErrNotFound
		}
		return e.val, nil
	}
	// DupSort: the first duplicate is the smallest (key, value) pair.
	var found *entry
	tr.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	if found == nil {
		return nil, backend.ErrNotFound
	}
	return found.val, nil
}

type writeTxn struct {
	env   *env
	base  map[string]*btree.BTreeG[entry]
	dirty map[string]*btree.BTreeG[entry]
	delta int64
	done  bool
}

// mutable returns the transaction-private clone for db, creating it on the
// first mutation so readers keep the committed tree untouched.
func (t *writeTxn) mutable(db backend.Database) (*btree.BTreeG[entry], *database, error) {
	if t.done {
		return nil, nil, fmt.Errorf("memkv: transaction already finished")
	}
	d := db.(*database)
	if tr, ok := t.dirty[d.name]; ok {
		return tr, d, nil
	}
	tr, ok := t.base[d.name]
	if !ok {
		// Database created after BeginWrite; adopt its current tree.
		t.env.mu.Lock()
		tr, ok = t.env.trees[d.name]
		t.env.mu.Unlock()
		if !ok {
			return nil, nil, fmt.Errorf("memkv: unknown database %q", d.name)
		}
	}
	clone := tr.Clone()
	t.dirty[d.name] = clone
	return clone, d, nil
}

// current returns the tree this transaction reads: its own uncommitted clone
// when one exists, the begin-time snapshot otherwise.
func (t *writeTxn) current(db backend.Database) (*btree.BTreeG[entry], *database, error) {
	if t.done {
		return nil, nil, fmt.Errorf("memkv: transaction already finished")
	}
	d := db.(*database)
	if tr, ok := t.dirty[d.name]; ok {
		return tr, d, nil
	}
	if tr, ok := t.base[d.name]; ok {
		return tr, d, nil
	}
	t.env.mu.Lock()
	tr := t.env.trees[d.name]
	t.env.mu.Unlock()
	return tr, d, nil
}

func (t *writeTxn) Get(db backend.Database, key []byte) ([]byte, error) {
	tr, d, err := t.current(db)
	if err != nil {
		return nil, err
	}
	return getFrom(tr, d, key)
}

func (t *writeTxn) Cursor(db backend.Database) (backend.Cursor, error) {
	tr, d, err := t.current(db)
	if err != nil {
		return nil, err
	}
	return &cursor{tree: tr, dup: d.dup}, nil
}

func (t *writeTxn) Put(db backend.Database, key, val []byte) error {
	grow := int64(len(key) + len(val))
	if t.env.cfg.MapSize > 0 {
		t.env.mu.Lock()
		used := t.env.used
		t.env.mu.Unlock()
		if used+t.delta+grow > t.env.cfg.MapSize {
			return fmt.Errorf("put: %w", backend.ErrMapFull)
		}
	}
	tr, _, err := t.mutable(db)
	if err != nil {
		return err
	}
	e := entry{key: bytes.Clone(key), val: bytes.Clone(val)}
	if prev, replaced := tr.ReplaceOrInsert(e); replaced {
		t.delta -= int64(len(prev.key) + len(prev.val))
	}
	t.delta += grow
	return nil
}

func (t *writeTxn) Delete(db backend.Database, key []byte) error {
	tr, d, err := t.mutable(db)
	if err != nil {
		return err
	}
	if !d.dup {
		prev, ok := tr.Delete(entry{key: key})
		if !ok {
			return backend.ErrNotFound
		}
		t.delta -= int64(len(prev.key) + len(prev.val))
		return nil
	}
	// Collect the key's duplicates first; deleting while ascending would
	// invalidate the iteration.
	var dups []entry
	tr.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		dups = append(dups, e)
		return true
	})
	if len(dups) == 0 {
		return backend.ErrNotFound
	}
	for _, e := range dups {
		tr.Delete(e)
		t.delta -= int64(len(e.key) + len(e.val))
	}
	return nil
}

func (t *writeTxn) DeleteExact(db backend.Database, key, val []byte) error {
	tr, d, err := t.mutable(db)
	if err != nil {
		return err
	}
	if !d.dup {
		e, ok := tr.Get(entry{key: key})
		if !ok || !bytes.Equal(e.val, val) {
			return backend.ErrNotFound
		}
		tr.Delete(e)
		t.delta -= int64(len(e.key) + len(e.val))
		return nil
	}
	prev, ok := tr.Delete(entry{key: key, val: val})
	if !ok {
		return backend.ErrNotFound
	}
	t.delta -= int64(len(prev.key) + len(prev.val))
	return nil
}

func (t *writeTxn) Clear(db backend.Database) error {
	if t.done {
		return fmt.Errorf("memkv: transaction already finished")
	}
	d := db.(*database)
	old, _, err := t.current(db)
	if err != nil {
		return err
	}
	if old != nil {
		old.Ascend(func(e entry) bool {
			t.delta -= int64(len(e.key) + len(e.val))
			return true
		})
	}
	t.dirty[d.name] = btree.NewG(btreeDegree, lessFor(d.dup))
	return nil
}

func (t *writeTxn) Commit() error {
	if t.done {
		return fmt.Errorf("memkv: commit: transaction already finished")
	}
	t.done = true

	t.env.mu.Lock()
	for name, tr := range t.dirty {
		t.env.trees[name] = tr
	}
	t.env.used += t.delta
	t.env.txnID++
	t.env.mu.Unlock()

	t.env.writeMu.Unlock()
	return nil
}

func (t *writeTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.env.writeMu.Unlock()
}

// cursor steps through a tree in (key, value) order. It re-seeks from the
// last position on every advance, which keeps it valid across the writer's
// clone-on-write swaps at the cost of a log-time step.
type cursor struct {
	tree       *btree.BTreeG[entry]
	dup        bool
	cur        entry
	positioned bool
	closed     bool
}

func (c *cursor) First() ([]byte, []byte, error) {
	if c.closed || c.tree == nil {
		return nil, nil, backend.ErrNotFound
	}
	e, ok := c.tree.Min()
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	c.cur, c.positioned = e, true
	return e.key, e.val, nil
}

func (c *cursor) Last() ([]byte, []byte, error) {
	if c.closed || c.tree == nil {
		return nil, nil, backend.ErrNotFound
	}
	e, ok := c.tree.Max()
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	c.cur, c.positioned = e, true
	return e.key, e.val, nil
}

func (c *cursor) Seek(key []byte) ([]byte, []byte, error) {
	if c.closed || c.tree == nil {
		return nil, nil, backend.ErrNotFound
	}
	var found *entry
	c.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			found = &e
		}
		return false
	})
	if found == nil {
		return nil, nil, backend.ErrNotFound
	}
	c.cur, c.positioned = *found, true
	return found.key, found.val, nil
}

// step advances past the current entry.
func (c *cursor) step() (entry, bool) {
	var next *entry
	c.tree.AscendGreaterOrEqual(c.cur, func(e entry) bool {
		if bytes.Equal(e.key, c.cur.key) && (!c.dup || bytes.Equal(e.val, c.cur.val)) {
			return true // still on the current entry
		}
		next = &e
		return false
	})
	if next == nil {
		return entry{}, false
	}
	return *next, true
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if c.closed || c.tree == nil {
		return nil, nil, backend.ErrNotFound
	}
	if !c.positioned {
		return c.First()
	}
	e, ok := c.step()
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	c.cur = e
	return e.key, e.val, nil
}

// stepBack retreats past the current entry.
func (c *cursor) stepBack() (entry, bool) {
	var prev *entry
	c.tree.DescendLessOrEqual(c.cur, func(e entry) bool {
		if bytes.Equal(e.key, c.cur.key) && (!c.dup || bytes.Equal(e.val, c.cur.val)) {
			return true // still on the current entry
		}
		prev = &e
		return false
	})
	if prev == nil {
		return entry{}, false
	}
	return *prev, true
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if c.closed || c.tree == nil {
		return nil, nil, backend.ErrNotFound
	}
	if !c.positioned {
		return c.Last()
	}
	e, ok := c.stepBack()
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	c.cur = e
	return e.key, e.val, nil
}

func (c *cursor) NextDup() ([]byte, []byte, error) {
	if c.closed || c.tree == nil || !c.positioned {
		return nil, nil, backend.ErrNotFound
	}
	e, ok := c.step()
	if !ok || !bytes.Equal(e.key, c.cur.key) {
		return nil, nil, backend.ErrNotFound
	}
	c.cur = e
	return e.key, e.val, nil
}

func (c *cursor) Close() {
	c.closed = true
	c.tree = nil
}
