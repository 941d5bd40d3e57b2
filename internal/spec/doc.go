// Package spec holds the data model shared by the cache, the bulk fetcher and
// the incremental synchronizer: source URIs, spec identifiers and their wire
// encoding, immutable source indexes, index kinds and dependency queries.
//
// Nothing in this package performs I/O. Index values are immutable once built,
// so they can be handed to concurrent readers without copying.
package spec
