// Package workflow drives audio processing sessions through their two phases:
// independent per-file pipelines (stage, convert, transcribe) up to a shared
// barrier, then a single session-wide analysis run over the combined
// transcripts.
//
// The Supervisor owns the lifecycle. FileWorkers advance individual files and
// persist every transition before signalling anyone. The BarrierCoordinator
// fires the collective phase exactly once per session, surviving concurrent
// arrivals and process restarts through a persisted run id. The
// CollectiveProcessor runs the analysis ladder sequentially, keeping its
// artifacts on failure so an operator can restart from the failed step.
package workflow
