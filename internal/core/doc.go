// Package core provides the import engine: schemas, decoding, validation,
// duplicate and reference resolution, code generation and the batch
// orchestrator.
//
// This package holds the domain logic independent of any transport. It is
// used by the HTTP server, the sheetctl CLI and tests without modification.
//
// # Architecture
//
// The package is organized around a few concepts:
//
//   - Schemas: a [ColumnSchema] declares an entity's columns, rules,
//     unique fields, foreign keys and business code.
//   - Services: an [EntityService] exposes one entity to the orchestrator.
//     [SchemaService] implements it for any schema.
//   - Registry: a [Registry] maps entity names to services. It is built
//     once at startup and passed explicitly.
//   - Importer: an [Importer] decodes uploads and drives every row to
//     Created, Updated, Skipped or Rejected.
//
// # Import Flow
//
// Uploads are decoded lazily, so memory stays proportional to the batch size:
//
//  1. [Decode] checks the file, finds the header and yields [RawRow] values
//  2. [RowValidator] converts and checks cells into a [TypedRow]
//  3. Foreign keys and duplicates are resolved against the store
//  4. New rows get a business code and are created in their own transaction
//
// Rows of one batch run in order. Entities without a business code may run
// rows concurrently; rows sharing a unique key still run in input order.
//
// # Error Handling
//
// Errors carry a kind (see [KindOf]). Structural errors abort a batch before
// any row runs; every other kind rejects a single row. Technical errors are
// mapped to user-facing messages and codes with [MapError].
//
// # Thread Safety
//
// [Registry], [Importer] and [UploadLimiter] are safe for concurrent use.
// Schemas must not be modified after registration.
package core
