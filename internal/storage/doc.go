// Package storage persists channels, presets, per-channel notification state and the audit log.
//
// Backends:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file":   snapshot + append-only journal (JSON)
//   - "memory": the file backend without files; used by tests and dry runs
package storage
