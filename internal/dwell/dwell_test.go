package dwell

import (
	"testing"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
)

func TestStintClampsClockSkew(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		started *time.Time
		want    int64
	}{
		{"nil start", nil, 0},
		{"normal", timePtr(now.Add(-90 * time.Second)), 90},
		{"future start", timePtr(now.Add(30 * time.Second)), 0},
		{"sub-second", timePtr(now.Add(-500 * time.Millisecond)), 0},
	}
	for _, tt := range cases {
		if got := Stint(tt.started, now); got != tt.want {
			t.Fatalf("%s: Stint=%d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLiveElapsedFrozenAfterCheckout(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	visit := models.Visit{
		Status:              models.StatusCompleted,
		TimerElapsedSeconds: 720,
	}
	if got := LiveElapsed(visit, 0, now); got != 720 {
		t.Fatalf("LiveElapsed=%d, want 720", got)
	}
	if got := LiveElapsed(visit, 0, now.Add(15*time.Second)); got != 720 {
		t.Fatalf("LiveElapsed after wait=%d, want 720", got)
	}
}

func TestLiveElapsedAddsStintToBankedBase(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	started := now.Add(-120 * time.Second)
	visit := models.Visit{
		Status:              models.StatusInProgress,
		TimerStartedAt:      &started,
		TimerElapsedSeconds: 600,
	}

	// Banked 600s from an earlier stay in this stage, 120s running.
	if got := LiveElapsed(visit, 600, now); got != 720 {
		t.Fatalf("LiveElapsed=%d, want 720", got)
	}

	// A higher ledger total wins over a stale stored base.
	if got := LiveElapsed(visit, 650, now); got != 770 {
		t.Fatalf("LiveElapsed with higher banked=%d, want 770", got)
	}
}

func TestStageTotalsAccumulateRepeatVisits(t *testing.T) {
	entries := []models.StageHistoryEntry{
		{FromStage: "bath", ToStage: "dry", ElapsedSeconds: 600},
		{FromStage: "dry", ToStage: "bath", ElapsedSeconds: 300},
		{FromStage: "bath", ToStage: "dry", ElapsedSeconds: 120},
	}
	totals := StageTotals(entries)
	if totals["bath"] != 720 {
		t.Fatalf("bath total=%d, want 720", totals["bath"])
	}
	if totals["dry"] != 300 {
		t.Fatalf("dry total=%d, want 300", totals["dry"])
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
