// Package registry keeps the set of known toys: the name operators use, the
// toy kind, the adapter address and whether the daemon should connect it on
// start.
//
// Records are stored in the SQLite toys table and served from an in-memory
// cache keyed by name. The cache is loaded once with Load and kept in step by
// every write that goes through the Registry.
//
// Usage:
//
//	repo := registry.NewSQLiteRepository(db.DB)
//	reg := registry.New(repo)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	rec, err := reg.Get(ctx, "ball")
package registry
