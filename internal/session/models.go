package session

import (
	"strings"
	"time"
)

// FileStatus represents the lifecycle of a single audio file within a session.
type FileStatus string

const (
	StatusPending                      FileStatus = "pending"
	StatusUploading                    FileStatus = "uploading"
	StatusConvertingToMp3              FileStatus = "converting_to_mp3"
	StatusFinishedConvertingToMp3      FileStatus = "finished_converting_to_mp3"
	StatusUploadingToGladia            FileStatus = "uploading_to_gladia"
	StatusFinishedUploadingToGladia    FileStatus = "finished_uploading_to_gladia"
	StatusWaitingToDownloadTranscripts FileStatus = "waiting_to_download_transcripts"
	StatusDownloadingTranscripts       FileStatus = "downloading_transcripts"
	StatusTranscriptsDownloaded        FileStatus = "transcripts_downloaded"
	StatusWaitingForOtherFiles         FileStatus = "waiting_for_other_files"
	StatusComplete                     FileStatus = "complete"
	StatusFailed                       FileStatus = "failed"
	StatusFailedMp3                    FileStatus = "failed_mp3"
)

// phaseOneOrder is the required Phase-1 progression. StatusWaitingForOtherFiles
// is the barrier state and terminal for Phase 1.
var phaseOneOrder = []FileStatus{
	StatusPending,
	StatusUploading,
	StatusConvertingToMp3,
	StatusFinishedConvertingToMp3,
	StatusUploadingToGladia,
	StatusFinishedUploadingToGladia,
	StatusWaitingToDownloadTranscripts,
	StatusDownloadingTranscripts,
	StatusTranscriptsDownloaded,
	StatusWaitingForOtherFiles,
}

var statusRank = func() map[FileStatus]int {
	ranks := make(map[FileStatus]int, len(phaseOneOrder))
	for i, status := range phaseOneOrder {
		ranks[status] = i
	}
	return ranks
}()

// BaseProgress is the fixed 0-100 score assigned to each file status, used as
// interpolation endpoints by the progress calculator.
var BaseProgress = map[FileStatus]float64{
	StatusPending:                      0,
	StatusUploading:                    10,
	StatusConvertingToMp3:              15,
	StatusFinishedConvertingToMp3:      20,
	StatusUploadingToGladia:            30,
	StatusFinishedUploadingToGladia:    40,
	StatusWaitingToDownloadTranscripts: 50,
	StatusDownloadingTranscripts:       60,
	StatusTranscriptsDownloaded:        65,
	StatusWaitingForOtherFiles:         70,
	StatusComplete:                     100,
}

// PhaseOneOrder returns the ordered list of Phase-1 statuses.
func PhaseOneOrder() []FileStatus {
	cp := make([]FileStatus, len(phaseOneOrder))
	copy(cp, phaseOneOrder)
	return cp
}

// ParseFileStatus converts a string into a known FileStatus.
func ParseFileStatus(value string) (FileStatus, bool) {
	normalized := FileStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StatusComplete, StatusFailed, StatusFailedMp3:
		return normalized, true
	}
	if _, ok := statusRank[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// NextStatus returns the status following s in the Phase-1 order. The second
// return is false when s is the barrier state or not a Phase-1 status.
func NextStatus(s FileStatus) (FileStatus, bool) {
	rank, ok := statusRank[s]
	if !ok || rank+1 >= len(phaseOneOrder) {
		return "", false
	}
	return phaseOneOrder[rank+1], true
}

// Rank returns the position of s in the Phase-1 order, or -1 for error and
// terminal statuses outside the ladder.
func Rank(s FileStatus) int {
	if rank, ok := statusRank[s]; ok {
		return rank
	}
	return -1
}

// IsFailure reports whether s is one of the recoverable error states.
func IsFailure(s FileStatus) bool {
	return s == StatusFailed || s == StatusFailedMp3
}

// AtOrPastBarrier reports whether s has reached the barrier state.
func AtOrPastBarrier(s FileStatus) bool {
	if s == StatusComplete {
		return true
	}
	return Rank(s) >= Rank(StatusWaitingForOtherFiles)
}

// ValidTransition reports whether a file may move from one status to another:
// one step forward along the Phase-1 order, any non-terminal state to a
// failure state, a failure state back to its recorded pre-failure status, or
// any state to Complete once the collective phase finishes.
func ValidTransition(from, to FileStatus) bool {
	if from == to {
		return false
	}
	if to == StatusComplete {
		return from != StatusComplete
	}
	if IsFailure(to) {
		return !IsFailure(from) && from != StatusComplete
	}
	if IsFailure(from) {
		// Retry: back to any live Phase-1 status.
		return Rank(to) >= 0
	}
	next, ok := NextStatus(from)
	return ok && next == to
}

// AudioFile is the persisted state of one recording's workflow.
type AudioFile struct {
	ID        string
	SessionID string
	// Position is the zero-based registration order within the session; it
	// fixes the merge order of transcripts in the collective phase.
	Position         int
	OriginalFilename string
	SourcePath       string
	Status           FileStatus
	// SubProgress is the 0.0-1.0 completion fraction within the current
	// status. Its meaning depends on Status. Updated atomically with Status.
	SubProgress  float64
	RetryCount   int
	ErrorMessage string
	// LastLiveStatus records the last non-failure status reached; retry resets
	// to it and frozen failed-file progress reports its base value.
	LastLiveStatus     FileStatus
	StagedPath         string
	ConvertedPath      string
	TranscriptionJobID string
	Transcript         string
	TranscriptLanguage string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsLive reports whether the file is not in a failure state.
func (f *AudioFile) IsLive() bool {
	return !IsFailure(f.Status)
}

// SetProgress updates Status and SubProgress together. Status and sub-progress
// are never written independently.
func (f *AudioFile) SetProgress(status FileStatus, subProgress float64) {
	if subProgress < 0 {
		subProgress = 0
	}
	if subProgress > 1 {
		subProgress = 1
	}
	f.Status = status
	f.SubProgress = subProgress
	if !IsFailure(status) {
		f.LastLiveStatus = status
	}
}

// SetFailed marks the file failed with the given status and message. The
// current status is preserved in LastLiveStatus for retry and frozen progress.
func (f *AudioFile) SetFailed(status FileStatus, message string) {
	if !IsFailure(status) {
		status = StatusFailed
	}
	if f.IsLive() {
		f.LastLiveStatus = f.Status
	}
	f.Status = status
	f.SubProgress = 0
	f.ErrorMessage = message
}

// CollectiveStatus represents the session-wide Phase-2 lifecycle.
type CollectiveStatus string

const (
	CollectiveNotStarted               CollectiveStatus = "not_started"
	CollectiveProcessingTranscriptions CollectiveStatus = "processing_transcriptions"
	CollectiveSendingToOpenAI          CollectiveStatus = "sending_to_openai"
	CollectiveProcessingWithAI         CollectiveStatus = "processing_with_ai"
	CollectiveReadyToProcessAIResponse CollectiveStatus = "ready_to_process_ai_response"
	CollectiveProcessingAIResponse     CollectiveStatus = "processing_ai_response"
	CollectiveComplete                 CollectiveStatus = "complete"
	CollectiveFailed                   CollectiveStatus = "failed"
)

var collectiveOrder = []CollectiveStatus{
	CollectiveProcessingTranscriptions,
	CollectiveSendingToOpenAI,
	CollectiveProcessingWithAI,
	CollectiveReadyToProcessAIResponse,
	CollectiveProcessingAIResponse,
	CollectiveComplete,
}

// CollectiveProgress maps each collective status to the session-level progress
// percentage reported once Phase 2 has started.
var CollectiveProgress = map[CollectiveStatus]float64{
	CollectiveProcessingTranscriptions: 72,
	CollectiveSendingToOpenAI:          75,
	CollectiveProcessingWithAI:         80,
	CollectiveReadyToProcessAIResponse: 90,
	CollectiveProcessingAIResponse:     95,
	CollectiveComplete:                 100,
}

// CollectiveOrder returns the ordered Phase-2 progression.
func CollectiveOrder() []CollectiveStatus {
	cp := make([]CollectiveStatus, len(collectiveOrder))
	copy(cp, collectiveOrder)
	return cp
}

// Started reports whether the collective phase has begun.
func (s CollectiveStatus) Started() bool {
	return s != "" && s != CollectiveNotStarted
}

// Terminal reports whether the collective phase has finished, successfully or not.
func (s CollectiveStatus) Terminal() bool {
	return s == CollectiveComplete || s == CollectiveFailed
}

// Session is the aggregate state of one review's audio processing run.
type Session struct {
	ID        string
	ReviewRef string

	CollectiveStatus CollectiveStatus
	// CollectiveRunID is assigned exactly once when the barrier fires; a
	// non-empty value with a non-terminal status marks an in-progress run to
	// resume after a restart.
	CollectiveRunID    string
	CombinedTranscript string
	AIJobID            string
	AIResponse         string
	InsightsJSON       string
	// FailedStep records which collective step failed so a manual restart
	// resumes there instead of re-running earlier steps.
	FailedStep    CollectiveStatus
	ExcludedFiles []string
	ErrorMessage  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CollectiveStarted reports whether a collective run has been recorded.
func (s *Session) CollectiveStarted() bool {
	return s.CollectiveRunID != "" || s.CollectiveStatus.Started()
}
