package models

import "time"

// StageHistoryEntry is one completed segment: the time spent in FromStage
// between two transition events. Rows are append-only.
type StageHistoryEntry struct {
	EntryID        string    `json:"entry_id"`
	VisitID        string    `json:"visit_id"`
	FromStage      string    `json:"from_stage"`
	ToStage        string    `json:"to_stage"`
	FromLabel      string    `json:"from_label,omitempty"`
	ToLabel        string    `json:"to_label,omitempty"`
	Comment        string    `json:"comment,omitempty"`
	ChangedBy      string    `json:"changed_by,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
}
