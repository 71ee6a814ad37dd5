// Package table implements the storage engine of kvsd: one append-only log file
// per table plus an in-memory index from key to the offset of the key's most
// recent entry.
//
// The package focuses on:
//   - A self-describing, versioned entry format (see entry.go) that can be decoded
//     from any record boundary
//   - Crash recovery by replaying the log at open; no separate write-ahead log
//   - Tombstones for deletes; older entries stay on disk until Compact rewrites
//     the log
//
// Key Components:
//
//   - Entry: a key and either a value or a tombstone. DecodeEntry distinguishes a
//     clean end of the log (io.EOF) from a partial or invalid record
//     (*CorruptionError).
//
//   - Index: key to offset map built by IndexFromReader. Last write wins in log
//     order.
//
//   - Table: owns the log file and the index. Get, Put and Delete are not safe
//     for concurrent use; the core package serializes all access.
package table
