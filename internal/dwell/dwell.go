// Package dwell holds the pure time accounting for stage dwell: the stint
// clamp, live-elapsed derivation, and banked-total accumulation over ledger
// segments.
package dwell

import (
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
)

// Stint returns the seconds spent in the current stage since startedAt,
// clamped at zero against clock skew. A nil start means no running timer.
func Stint(startedAt *time.Time, now time.Time) int64 {
	if startedAt == nil {
		return 0
	}
	seconds := int64(now.Sub(*startedAt) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

// LiveElapsed returns the visible timer value for a visit at the given
// instant. Completed or frozen visits report their stored elapsed seconds;
// active visits report the banked base plus the running stint.
func LiveElapsed(visit models.Visit, bankedCurrentStage int64, now time.Time) int64 {
	if visit.Status == models.StatusCompleted || visit.TimerStartedAt == nil {
		return visit.TimerElapsedSeconds
	}
	base := visit.TimerElapsedSeconds
	if bankedCurrentStage > base {
		base = bankedCurrentStage
	}
	return base + Stint(visit.TimerStartedAt, now)
}

// StageTotals sums ledger segments by the stage they were spent in.
func StageTotals(entries []models.StageHistoryEntry) map[string]int64 {
	totals := make(map[string]int64, len(entries))
	for _, entry := range entries {
		totals[entry.FromStage] += entry.ElapsedSeconds
	}
	return totals
}
