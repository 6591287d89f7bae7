package storage

// Package storage is the durable boundary for work orders, schedules, and
// the read-only group membership table.
//
// It currently supports:
//   - SQLite (modernc.org/sqlite) for local and test runs
//   - Postgres (lib/pq) for hosted deployments
//
// All timestamps persist as unix milliseconds so the conditional next-run
// advance compares exactly on both drivers.
