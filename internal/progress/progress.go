// Package progress computes display percentages for files and sessions from
// their persisted workflow state. It never writes state; callers pass the rows
// they already hold.
package progress

import (
	"chorus/internal/session"
)

// FileProgress returns the 0-100 completion percentage of a single file.
//
// Live files interpolate between the base value of their current status and
// the base value of the next status using the file's sub-progress fraction.
// Failed files report the base value of the last live status they reached, so
// a failure never moves a progress bar backwards or forwards.
func FileProgress(file *session.AudioFile) float64 {
	if file == nil {
		return 0
	}
	status := file.Status
	if session.IsFailure(status) {
		return baseFor(file.LastLiveStatus)
	}
	if status == session.StatusComplete {
		return 100
	}
	base := baseFor(status)
	next, ok := session.NextStatus(status)
	if !ok {
		// Barrier state: the remaining span belongs to the collective phase.
		return base
	}
	span := session.BaseProgress[next] - base
	fraction := clampFraction(file.SubProgress)
	return clamp(base+span*fraction, base, session.BaseProgress[next])
}

// SessionProgress returns the 0-100 completion percentage of a session.
//
// Before the collective phase starts it is the arithmetic mean of the file
// percentages, failed files included at their frozen value. Once the
// collective phase has begun, every file has either reached the barrier or
// been excluded, and the session reports the collective status value instead.
func SessionProgress(sess *session.Session, files []*session.AudioFile) float64 {
	if sess != nil && sess.CollectiveStarted() {
		if sess.CollectiveStatus == session.CollectiveFailed {
			// A failed run keeps reporting the step it failed at.
			if value, ok := session.CollectiveProgress[sess.FailedStep]; ok {
				return value
			}
			return session.CollectiveProgress[session.CollectiveProcessingTranscriptions]
		}
		if value, ok := session.CollectiveProgress[sess.CollectiveStatus]; ok {
			return value
		}
	}
	if len(files) == 0 {
		return 0
	}
	var total float64
	for _, file := range files {
		total += FileProgress(file)
	}
	return total / float64(len(files))
}

func baseFor(status session.FileStatus) float64 {
	if value, ok := session.BaseProgress[status]; ok {
		return value
	}
	return 0
}

func clampFraction(f float64) float64 {
	return clamp(f, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
