// Package storage holds encrypted packages between clients and the
// aggregator, and publishes the models the aggregator produces.
//
// Every PackageStore backend is write-once per (round, client id): writing
// the same package again is a no-op, writing different bytes under an
// existing id fails with ErrImmutable.
//
// Backends:
//   - MemoryStore, for tests and single-process runs
//   - FSStore, the out/round-<R>/client-<id>.cipher.json directory layout
//   - BoltStore, an embedded bbolt database
//   - PostgresStore, a shared PostgreSQL table
//
// Published models go through a Publisher. FSPublisher writes
// round-<R>/global_model.bin and round-<R>/global_model.json, and
// CASPublisher additionally stores the raw model in a content-addressed
// ModelCAS and records its CID in the manifest.
package storage
