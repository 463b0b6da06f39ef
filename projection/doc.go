// Package projection applies received events to a read model.
//
// A Projector resolves an Operation for each event from resolvers
// registered by payload type, then executes it against a ReadModel. Update
// operations are filtered upserts that also stamp the document with the
// event's logical position; a document never moves back to an older
// position, so redelivered or reordered events are harmless.
//
// Read model implementations live in the subpackages:
//   - redisdoc: Redis hashes, guarded by a Lua script
//   - boltdoc: JSON documents in an embedded bbolt file
//   - pgdoc: JSONB rows in PostgreSQL
//   - mongodoc: MongoDB collections
package projection
