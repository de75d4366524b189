// Package storage persists job definitions and execution history.
//
// One portable schema serves both drivers:
//   - "sqlite": modernc.org/sqlite, a single-writer database file
//   - "postgres": github.com/lib/pq
//
// Instants are stored as unix milliseconds and booleans as 0/1 so the same
// statements run unchanged on both; placeholders are rebound per driver.
package storage
