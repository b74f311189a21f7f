package den

import (
	"errors"

	"github.com/denkv/den/backend"
)

// StoreKind is the type configuration a named store is bound to: the key
// shape (arbitrary bytes or fixed-width integer) and the value multiplicity
// (one value per key or duplicates). A name is bound to exactly one kind for
// the lifetime of the environment.
type StoreKind int

const (
	StoreSingle StoreKind = iota
	StoreMulti
	StoreInteger
	StoreIntegerMulti
)

func (k StoreKind) String() string {
	switch k {
	case StoreSingle:
		return "single"
	case StoreMulti:
		return "multi"
	case StoreInteger:
		return "integer"
	case StoreIntegerMulti:
		return "integer-multi"
	}
	return "unknown"
}

func (k StoreKind) dupSort() bool {
	return k == StoreMulti || k == StoreIntegerMulti
}

func (k StoreKind) integerKey() bool {
	return k == StoreInteger || k == StoreIntegerMulti
}

// StoreOptions controls how a store is opened.
type StoreOptions struct {
	// Create opens-or-creates. When false, opening a store that does not
	// exist yet fails with ErrStoreNotFound.
	Create bool
}

// store is the untyped half every variant shares: a named database plus the
// encode/decode plumbing. The typed wrappers restrict key shape and
// multiplicity on top of it.
type store struct {
	name string
	db   backend.Database
}

func (s *store) get(tx Transaction, key []byte) (Value, error) {
	raw, err := tx.rawGet(s.db, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return Value{}, nil
		}
		return Value{}, wrapBackend("get from", s.name, err)
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return Value{}, wrapOp(ErrDecode, "get from", s.name, err)
	}
	return v, nil
}

func (s *store) put(w *Writer, key []byte, v Value) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	if err := w.rawPut(s.db, key, data); err != nil {
		return wrapBackend("put into", s.name, err)
	}
	return nil
}

func (s *store) deleteKey(w *Writer, key []byte) error {
	err := w.rawDelete(s.db, key)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return wrapBackend("delete from", s.name, err)
	}
	return nil
}

func (s *store) deletePair(w *Writer, key []byte, v Value) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	err = w.rawDeleteExact(s.db, key, data)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return wrapBackend("delete from", s.name, err)
	}
	return nil
}

func (s *store) clear(w *Writer) error {
	if err := w.rawClear(s.db); err != nil {
		return wrapBackend("clear", s.name, err)
	}
	return nil
}

// SingleStore holds one value per byte key.
type SingleStore struct {
	store
}

// Name returns the store's name within its environment.
func (s *SingleStore) Name() string { return s.name }

// Get returns the value stored for key, or the absent Value when the key has
// none. Errors only on decode failure or an engine error.
func (s *SingleStore) Get(tx Transaction, key []byte) (Value, error) {
	return s.get(tx, key)
}

// Put stores value under key, replacing any previous value.
func (s *SingleStore) Put(w *Writer, key []byte, value Value) error {
	return s.put(w, key, value)
}

// Delete removes the value for key. Deleting an absent key is a no-op, not
// an error.
func (s *SingleStore) Delete(w *Writer, key []byte) error {
	return s.deleteKey(w, key)
}

// Clear removes every entry in the store.
func (s *SingleStore) Clear(w *Writer) error {
	return s.clear(w)
}

// MultiStore holds any number of values per byte key. Byte-identical
// duplicates are stored once; distinct values coexist and iterate in the
// engine's value order.
type MultiStore struct {
	store
}

// Name returns the store's name within its environment.
func (s *MultiStore) Name() string { return s.name }

// Get returns an iterator over every value stored for key, in the engine's
// value order. A key with no values yields an empty iteration, not an error.
func (s *MultiStore) Get(tx Transaction, key []byte) (*Iter, error) {
	cur, err := tx.rawCursor(s.db)
	if err != nil {
		return nil, wrapBackend("iterate", s.name, err)
	}
	return newDupIter(cur, key, s.name), nil
}

// GetFirst returns the first value stored for key, or the absent Value.
func (s *MultiStore) GetFirst(tx Transaction, key []byte) (Value, error) {
	return s.get(tx, key)
}

// Put adds value as a duplicate for key without removing the key's other
// values.
func (s *MultiStore) Put(w *Writer, key []byte, value Value) error {
	return s.put(w, key, value)
}

// Delete removes only the exact (key, value) pair. The key's other
// duplicates stay; removing them takes repeated calls or DeleteAll. The
// pair being absent is a no-op. The value is part of the signature on
// purpose, so one duplicate can never be confused with the whole key.
func (s *MultiStore) Delete(w *Writer, key []byte, value Value) error {
	return s.deletePair(w, key, value)
}

// DeleteAll removes every value stored for key. An absent key is a no-op.
func (s *MultiStore) DeleteAll(w *Writer, key []byte) error {
	return s.deleteKey(w, key)
}

// Clear removes every entry in the store.
func (s *MultiStore) Clear(w *Writer) error {
	return s.clear(w)
}

// IntegerStore is a SingleStore keyed by uint64. Keys are encoded as 8 bytes
// big-endian, so the engine's bytewise ordering is numeric ordering.
type IntegerStore struct {
	store
}

// Name returns the store's name within its environment.
func (s *IntegerStore) Name() string { return s.name }

// Get returns the value stored for key, or the absent Value.
func (s *IntegerStore) Get(tx Transaction, key uint64) (Value, error) {
	return s.get(tx, encodeIntKey(key))
}

// Put stores value under key, replacing any previous value.
func (s *IntegerStore) Put(w *Writer, key uint64, value Value) error {
	return s.put(w, encodeIntKey(key), value)
}

// Delete removes the value for key. An absent key is a no-op.
func (s *IntegerStore) Delete(w *Writer, key uint64) error {
	return s.deleteKey(w, encodeIntKey(key))
}

// Clear removes every entry in the store.
func (s *IntegerStore) Clear(w *Writer) error {
	return s.clear(w)
}

// IntegerMultiStore is a MultiStore keyed by uint64.
type IntegerMultiStore struct {
	store
}

// Name returns the store's name within its environment.
func (s *IntegerMultiStore) Name() string { return s.name }

// Get returns an iterator over every value stored for key.
func (s *IntegerMultiStore) Get(tx Transaction, key uint64) (*Iter, error) {
	cur, err := tx.rawCursor(s.db)
	if err != nil {
		return nil, wrapBackend("iterate", s.name, err)
	}
	return newDupIter(cur, encodeIntKey(key), s.name), nil
}

// GetFirst returns the first value stored for key, or the absent Value.
func (s *IntegerMultiStore) GetFirst(tx Transaction, key uint64) (Value, error) {
	return s.get(tx, encodeIntKey(key))
}

// Put adds value as a duplicate for key.
func (s *IntegerMultiStore) Put(w *Writer, key uint64, value Value) error {
	return s.put(w, encodeIntKey(key), value)
}

// Delete removes only the exact (key, value) pair; an absent pair is a no-op.
func (s *IntegerMultiStore) Delete(w *Writer, key uint64, value Value) error {
	return s.deletePair(w, encodeIntKey(key), value)
}

// DeleteAll removes every value stored for key.
func (s *IntegerMultiStore) DeleteAll(w *Writer, key uint64) error {
	return s.deleteKey(w, encodeIntKey(key))
}

// Clear removes every entry in the store.
func (s *IntegerMultiStore) Clear(w *Writer) error {
	return s.clear(w)
}
