// Package gladia wraps the Gladia pre-recorded transcription API: multipart
// audio upload, job submission, and status polling. Completion is detected by
// polling only; the engine's workflow layer owns the poll cadence and timeout.
package gladia
