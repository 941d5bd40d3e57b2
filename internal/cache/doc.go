// Package cache defines the disk-backed store holding the last synchronized
// package index per (source, index kind). Entries live in memory as immutable
// snapshots and are persisted to StoragePath/<host:port>/<base path>/<kind>.<ver>
// with safe semantics (temp file + rename). Each file starts with a header
// line recording the remote byte size observed at sync time, so staleness can
// be decided after a restart without refetching the index.
package cache
