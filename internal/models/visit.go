package models

import "time"

type Visit struct {
	VisitID             string     `json:"visit_id"`
	ClientID            string     `json:"client_id"`
	GuardianID          string     `json:"guardian_id,omitempty"`
	ViewID              string     `json:"view_id,omitempty"`
	PetName             string     `json:"pet_name"`
	CurrentStage        string     `json:"current_stage"`
	Status              string     `json:"status"`
	CheckInAt           *time.Time `json:"check_in_at,omitempty"`
	CheckOutAt          *time.Time `json:"check_out_at,omitempty"`
	TimerStartedAt      *time.Time `json:"timer_started_at,omitempty"`
	TimerElapsedSeconds int64      `json:"timer_elapsed_seconds"`
	Instructions        string     `json:"instructions"`
	PrivateNotes        string     `json:"private_notes"`
	PublicNotes         string     `json:"public_notes"`
	AssignedStaff       string     `json:"assigned_staff,omitempty"`
	GuardianName        string     `json:"guardian_name,omitempty"`
	GuardianPhone       string     `json:"guardian_phone,omitempty"`
	GuardianEmail       string     `json:"guardian_email,omitempty"`
	Flags               []Flag     `json:"flags,omitempty"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Pseudo stage keys written to the ledger; never part of the stage library.
const (
	StageCheckedOut = "checked_out"
	StageUpdated    = "updated"
	StageUnassigned = "unassigned"
)

type Flag struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
	SeverityInternal = "internal"
	SeverityPrivate  = "private"
)

// SensitiveSeverity reports whether a flag must be dropped from masked boards.
func SensitiveSeverity(severity string) bool {
	switch severity {
	case SeverityHigh, SeverityCritical, SeverityInternal, SeverityPrivate:
		return true
	default:
		return false
	}
}

func (v Visit) Active() bool {
	return v.CheckOutAt == nil && v.Status != StatusCompleted
}

type VisitPhoto struct {
	AttachmentID    string    `json:"attachment_id"`
	VisitID         string    `json:"visit_id"`
	GuardianVisible bool      `json:"guardian_visible"`
	Primary         bool      `json:"primary"`
	CreatedAt       time.Time `json:"created_at"`
}
