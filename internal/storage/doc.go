package storage

// Package storage is the persistence gateway for tasks, users and
// notification records.
//
// It currently supports:
//   - sqlite: durable single-file database (default)
//   - memory: in-process store for tests and throwaway deployments
//
// Scheduled job handles are NOT persisted here; the engine re-derives them
// from this store on startup.
