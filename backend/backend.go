// Package backend defines the contract an embedded ordered byte-store engine
// must satisfy for den to run on top of it. den never touches disk directly;
// every operation goes through these interfaces, so the engine can be swapped
// without changes to the typed layers above.
//
// The contract assumes the engine provides, per environment: named databases,
// snapshot-isolated read transactions with unlimited concurrency, exclusive
// write transactions that block while another writer is active, and atomic,
// durable commits.
package backend

import (
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is the sentinel for "key not present". Adapters must translate
// their engine's not-found condition to this error; the typed layer turns it
// into an absent value rather than an error.
var ErrNotFound = errors.New("key not found")

// Resource-exhaustion sentinels. Adapters that enforce the corresponding
// limits themselves wrap these so the typed layer can classify the failure;
// engines that report exhaustion through their own error codes pass those
// through instead.
var (
	ErrReadersFull = errors.New("maxreaders limit reached")
	ErrMapFull     = errors.New("mapsize limit reached")
	ErrDBsFull     = errors.New("maxdbs limit reached")
)

// EnvConfig carries the options recognized at environment-open time.
type EnvConfig struct {
	// MaxReaders caps concurrent read transactions. Zero means the
	// engine's default.
	MaxReaders uint32
	// MaxDBs caps the number of distinct named databases. Zero means the
	// engine's default.
	MaxDBs uint32
	// MapSize caps the total addressable bytes of the environment. Zero
	// means the engine's default.
	MapSize int64
	// MakeDirIfNeeded creates the environment directory when absent.
	// When false, a missing directory is a reported error.
	MakeDirIfNeeded bool
}

// DatabaseConfig describes how a named database is opened.
type DatabaseConfig struct {
	// Create opens-or-creates; when false a missing database is an error.
	Create bool
	// DupSort permits duplicate keys: every (key, value) pair coexists,
	// byte-identical pairs are stored once, and a key's values iterate in
	// the engine's value ordering.
	DupSort bool
	// IntegerKey records that keys are fixed-width integers. den encodes
	// integer keys big-endian so plain bytewise comparison already orders
	// them numerically; engines whose native integer-key mode requires a
	// machine byte order should ignore this hint.
	IntegerKey bool
}

// Database is an opaque per-backend handle to a named database, resolved
// inside transactions by the adapter that issued it.
type Database any

// Backend opens environments for one engine.
type Backend interface {
	// Open opens or creates an environment at a directory path.
	Open(path string, cfg EnvConfig) (Env, error)
}

// Env is one open environment.
type Env interface {
	// OpenDatabase opens or creates a named database. Returns ErrNotFound
	// when the database is missing and cfg.Create is false.
	OpenDatabase(name string, cfg DatabaseConfig) (Database, error)

	// BeginRead starts a read transaction over a point-in-time snapshot
	// spanning every database in the environment. Never blocks on other
	// transactions; fails only on resource exhaustion.
	BeginRead() (ReadTxn, error)

	// BeginWrite starts the environment's single write transaction,
	// blocking the calling goroutine while another writer is active.
	BeginWrite() (WriteTxn, error)

	// Sync flushes buffered writes to stable storage. When force is true
	// the flush is synchronous.
	Sync(force bool) error

	Stat() (Stat, error)
	Info() (Info, error)

	// Path returns the environment's directory path.
	Path() string

	// Close releases the environment. All transactions must be finished.
	Close() error
}

// ReadTxn is a read-only transaction.
type ReadTxn interface {
	// Get returns the value stored for key, or ErrNotFound. For DupSort
	// databases it returns the first duplicate in engine order. The
	// returned slice is only valid until the transaction ends.
	Get(db Database, key []byte) ([]byte, error)

	// Cursor opens a cursor over db. The cursor is bound to this
	// transaction and must be closed before it ends.
	Cursor(db Database) (Cursor, error)

	// Abort ends the transaction. Idempotent.
	Abort()
}

// WriteTxn is a read/write transaction. Reads observe the transaction's own
// uncommitted writes.
type WriteTxn interface {
	Get(db Database, key []byte) ([]byte, error)
	Cursor(db Database) (Cursor, error)

	// Put stores a (key, value) pair. On a DupSort database an existing
	// key gains a duplicate instead of being overwritten.
	Put(db Database, key, val []byte) error

	// Delete removes key and, on a DupSort database, every duplicate for
	// it. Returns ErrNotFound if the key is absent.
	Delete(db Database, key []byte) error

	// DeleteExact removes the single (key, val) pair. Returns ErrNotFound
	// if that exact pair is absent.
	DeleteExact(db Database, key, val []byte) error

	// Clear removes every entry in db, keeping the database itself.
	Clear(db Database) error

	// Commit atomically persists the transaction. The transaction is
	// unusable afterwards regardless of the result.
	Commit() error

	// Abort discards the transaction. Idempotent, safe after Commit.
	Abort()
}

// Cursor iterates a database in key order, and within a key in the engine's
// duplicate order. Key/value slices returned by cursor calls are only valid
// until the next cursor call or the end of the transaction.
type Cursor interface {
	// First positions at the first entry.
	First() (key, val []byte, err error)

	// Last positions at the last entry.
	Last() (key, val []byte, err error)

	// Seek positions at the first entry for key (the first duplicate on a
	// DupSort database). Returns ErrNotFound if the key is absent.
	Seek(key []byte) (k, val []byte, err error)

	// Next advances to the next entry, crossing key boundaries.
	Next() (key, val []byte, err error)

	// Prev steps back to the previous entry, crossing key boundaries.
	Prev() (key, val []byte, err error)

	// NextDup advances to the next duplicate of the current key, returning
	// ErrNotFound once the key's duplicates are exhausted.
	NextDup() (key, val []byte, err error)

	// Close releases the cursor's position but not the parent transaction.
	Close()
}

// Stat describes a snapshot of the environment's main tree.
type Stat struct {
	PageSize      uint32
	Depth         uint32
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
}

// Info describes the environment's configuration and transaction state.
type Info struct {
	MapSize    int64
	LastTxnID  uint64
	MaxReaders uint32
	NumReaders uint32
}

// EnsureDir applies the directory-creation policy shared by all adapters:
// create the environment directory when permitted, otherwise report its
// absence instead of failing later inside the engine.
func EnsureDir(path string, create bool) error {
	if create {
		return os.MkdirAll(path, 0o755)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("environment directory %q: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("environment path %q is not a directory", path)
	}
	return nil
}
