// Package core provides the business logic of the ledger import pipeline.
//
// This package contains all import logic independent of any transport or
// storage. It can be used by the HTTP API, the CLI, or tests without
// modification; persistence goes through [domain.Store].
//
// # Architecture
//
// Data flows through the package in one direction:
//
//	raw file -> Format.Parse -> staged rows -> Run (Cache, dedup) -> ledger
//
//   - Formats: registered at init time via [Register], selected by the
//     import's format discriminator. Each declares its traits, required
//     fields and dedup strategy.
//   - Rows: fixed structs of strings, read through pure accessors such as
//     [RowSignedAmount] parametrised by the import's column mapping.
//   - Run: one execution of the committer, owning the label [Cache] and the
//     dedup indexes for the length of a transaction.
//   - Service: the lifecycle facade (upload, configure, clean, preview,
//     publish, revert).
//
// # Format Registry
//
// Formats register themselves from package init functions:
//
//	func init() { core.Register(ofxFormat{}) }
//
// # Sign Convention
//
// Every committed amount is positive when value leaves the account and
// negative when it enters, whatever the source file's convention.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: database errors
//   - FILE001-FILE005: uploaded file problems
//   - MAP001-MAP006: mapping and binding problems
//   - IMP001-IMP007: lifecycle and publish problems
//   - REQ001-REQ003, RATE001: request validation and rate limiting
package core
