package den

import (
	"errors"
	"runtime"

	"github.com/denkv/den/backend"
)

// Transaction is the read capability shared by Reader and Writer: typed store
// getters accept either, and a Writer's reads observe its own uncommitted
// writes. Only den's own types implement it.
type Transaction interface {
	rawGet(db backend.Database, key []byte) ([]byte, error)
	rawCursor(db backend.Database) (backend.Cursor, error)
}

// wrapBackend classifies an engine error and attaches the failed operation
// and its subject. den errors pass through unchanged.
func wrapBackend(op, subject string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	code := ErrBackend
	switch {
	case errors.Is(err, backend.ErrReadersFull):
		code = ErrReadersFull
	case errors.Is(err, backend.ErrMapFull):
		code = ErrMapFull
	case errors.Is(err, backend.ErrDBsFull):
		code = ErrDBsFull
	}
	return wrapOp(code, op, subject, err)
}

// Reader is a read-only transaction: a point-in-time snapshot spanning every
// store in the environment. Any number of Readers may run concurrently with
// each other and with one Writer; a Reader never blocks anyone.
//
// End a Reader with Abort, typically deferred right after Env.Read. A Reader
// has no effects to persist, so there is nothing to commit; a leaked Reader
// is aborted by a finalizer, but holding read snapshots open pins old data
// in the engine, so do not rely on that.
type Reader struct {
	txn  backend.ReadTxn
	path string
	done bool
}

func newReader(txn backend.ReadTxn, path string) *Reader {
	r := &Reader{txn: txn, path: path}
	runtime.SetFinalizer(r, (*Reader).Abort)
	return r
}

func (r *Reader) rawGet(db backend.Database, key []byte) ([]byte, error) {
	if r.done {
		return nil, NewError(ErrTxnDone)
	}
	return r.txn.Get(db, key)
}

func (r *Reader) rawCursor(db backend.Database) (backend.Cursor, error) {
	if r.done {
		return nil, NewError(ErrTxnDone)
	}
	return r.txn.Cursor(db)
}

// Abort ends the read transaction. Idempotent.
func (r *Reader) Abort() {
	if r.done {
		return
	}
	r.done = true
	runtime.SetFinalizer(r, nil)
	r.txn.Abort()
}

// Writer is a read/write transaction. At most one Writer is active per
// environment; Env.Write blocks until the current one commits or aborts.
//
// A Writer is consumed by Commit and Abort: any operation afterwards fails
// with ErrTxnDone. Abort is idempotent and safe after Commit, so the usual
// shape is
//
//	w, err := env.Write()
//	...
//	defer w.Abort()
//	...
//	return w.Commit()
//
// which guarantees an uncommitted Writer is aborted on every exit path, and
// nothing is ever persisted without an explicit Commit.
//
// A Writer must stay on the goroutine that created it: the default backend
// pins the write transaction to an OS thread.
type Writer struct {
	txn  backend.WriteTxn
	path string
	done bool
}

func (w *Writer) rawGet(db backend.Database, key []byte) ([]byte, error) {
	if w.done {
		return nil, NewError(ErrTxnDone)
	}
	return w.txn.Get(db, key)
}

func (w *Writer) rawCursor(db backend.Database) (backend.Cursor, error) {
	if w.done {
		return nil, NewError(ErrTxnDone)
	}
	return w.txn.Cursor(db)
}

func (w *Writer) rawPut(db backend.Database, key, val []byte) error {
	if w.done {
		return NewError(ErrTxnDone)
	}
	return w.txn.Put(db, key, val)
}

func (w *Writer) rawDelete(db backend.Database, key []byte) error {
	if w.done {
		return NewError(ErrTxnDone)
	}
	return w.txn.Delete(db, key)
}

func (w *Writer) rawDeleteExact(db backend.Database, key, val []byte) error {
	if w.done {
		return NewError(ErrTxnDone)
	}
	return w.txn.DeleteExact(db, key, val)
}

func (w *Writer) rawClear(db backend.Database) error {
	if w.done {
		return NewError(ErrTxnDone)
	}
	return w.txn.Clear(db)
}

// Commit atomically persists every operation buffered in the transaction and
// consumes the Writer. On error nothing is persisted and the Writer is
// consumed all the same.
func (w *Writer) Commit() error {
	if w.done {
		return NewError(ErrTxnDone)
	}
	w.done = true
	if err := w.txn.Commit(); err != nil {
		return wrapBackend("commit", w.path, err)
	}
	return nil
}

// Abort discards every buffered operation and consumes the Writer.
// Idempotent; a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.txn.Abort()
}
