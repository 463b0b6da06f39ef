// Package ledger implements the persistence core of an event sourcing
// toolkit backed by Redis or Valkey streams. It couples an append-only event
// log with optimistic concurrency, a pluggable serialization pipeline, and a
// small aggregate executor that can be embedded into services.
//
// Typical usage looks like:
//   - Register event payload types in a TypeMap
//   - Open a RedisBackend and wrap it in a Store
//   - Append events with an ExpectedVersion and read them back in order
//   - Use an Executor to run Commands that raise events on an Aggregator
//   - Feed read events into a projection.Projector to maintain read models
//
// Every stream is stored under two Redis keys that share a hash slot: the
// stream of events and a small hash tracking its version and last position.
// Appends are performed by a single Lua function so that the version check
// and the writes are indivisible.
package ledger
