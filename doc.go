// Package den is a typed, transactional key/value layer on top of an
// embedded ordered byte-store engine.
//
// The engine underneath (page allocation, B-tree balancing, MVCC, disk I/O)
// is not implemented here; den talks to it through the backend contract in
// the backend package and ships three adapters:
//
//   - backend/mdbxkv: libmdbx via erigontech/mdbx-go (the default)
//   - backend/boltkv: bbolt, with multi-value stores emulated on nested buckets
//   - backend/memkv:  ephemeral in-memory B-trees, mainly for tests
//
// What den adds on top:
//
//   - Manager: a process-wide registry that guarantees at most one open
//     environment handle per canonical path, because the engines underneath
//     forbid double-opening a path within one process.
//   - Env: one environment, holding named databases and handing out typed
//     store handles and transactions.
//   - SingleStore, MultiStore, IntegerStore, IntegerMultiStore: typed views
//     over a named database. A name is bound to one kind for the life of the
//     environment; reopening it under another kind fails.
//   - Reader/Writer: the transaction lifecycle. Any number of concurrent
//     readers, one writer at a time; a second Write call blocks until the
//     first writer commits or aborts.
//   - Value: a tagged union (bool, i64, u64, f64, instant, string, JSON,
//     blob, UUID) with a canonical byte encoding, so heterogeneous values
//     round-trip through the untyped engine and across architectures.
//
// Basic usage:
//
//	env, err := den.Singleton().GetOrCreate(path, func(p string) (*den.Env, error) {
//	    return den.New(p, den.Options{MakeDirIfNeeded: true})
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := env.OpenSingle("mydb", den.StoreOptions{Create: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := env.Write()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Abort() // no-op once committed
//
//	if err := store.Put(w, []byte("k"), den.I64(42)); err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Commit(); err != nil {
//	    log.Fatal(err)
//	}
//
//	r, err := env.Read()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Abort()
//	v, err := store.Get(r, []byte("k"))
package den
