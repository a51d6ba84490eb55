// Package session owns the persisted data model of the audio processing
// workflow: the per-file status ladder with its base progress values, the
// session-wide collective phase, and the SQLite store both are saved in.
//
// Persisted rows are the single source of truth; workers persist a new status
// before signalling any observer, so in-memory state can always be rebuilt
// from storage. To add statuses or columns, update schema.sql and bump
// schemaVersion.
package session
