package den

import (
	"bytes"
	"errors"

	"github.com/denkv/den/backend"
)

// Iter is a lazy, finite, non-restartable iteration over one key's duplicate
// values in a multi-value store, in the engine's value order. It is bound to
// the transaction it was created from and must not outlive it.
//
//	it, err := store.Get(r, key)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//	    v := it.Value()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
//
// Closing or exhausting the iterator releases its cursor but not the parent
// transaction.
type Iter struct {
	cur     backend.Cursor
	key     []byte
	store   string
	val     Value
	err     error
	started bool
	done    bool
}

func newDupIter(cur backend.Cursor, key []byte, store string) *Iter {
	return &Iter{cur: cur, key: bytes.Clone(key), store: store}
}

// Next advances to the next duplicate, returning false when the iteration is
// exhausted or failed. Check Err after the loop.
func (it *Iter) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	var v []byte
	var err error
	if !it.started {
		it.started = true
		_, v, err = it.cur.Seek(it.key)
	} else {
		_, v, err = it.cur.NextDup()
	}
	if err != nil {
		it.stop()
		if !errors.Is(err, backend.ErrNotFound) {
			it.err = wrapBackend("iterate", it.store, err)
		}
		return false
	}
	val, err := DecodeValue(v)
	if err != nil {
		it.stop()
		it.err = wrapOp(ErrDecode, "iterate", it.store, err)
		return false
	}
	it.val = val
	return true
}

// Key returns the key being iterated.
func (it *Iter) Key() []byte { return it.key }

// Value returns the duplicate at the current position. Only valid after a
// Next call that returned true.
func (it *Iter) Value() Value { return it.val }

// Err returns the first error hit during iteration, if any.
func (it *Iter) Err() error { return it.err }

// Close releases the iterator's cursor. Idempotent.
func (it *Iter) Close() {
	it.stop()
}

func (it *Iter) stop() {
	if it.done {
		return
	}
	it.done = true
	it.cur.Close()
}
