package models

import "time"

// BoardPayload is the cacheable projection of one view: active visits
// bucketed by stage with capacity and timer annotations.
type BoardPayload struct {
	ViewID          string        `json:"view_id"`
	Slug            string        `json:"slug"`
	Name            string        `json:"name"`
	Type            string        `json:"type"`
	RefreshInterval int           `json:"refresh_interval"`
	Stages          []StageBucket `json:"stages"`
	VisitCount      int           `json:"visit_count"`
	LastUpdated     *time.Time    `json:"last_updated,omitempty"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

type StageBucket struct {
	StageKey        string       `json:"stage_key"`
	Label           string       `json:"label"`
	SortOrder       int          `json:"sort_order"`
	Synthesized     bool         `json:"synthesized,omitempty"`
	VisitCount      int          `json:"visit_count"`
	SoftLimit       int          `json:"soft_limit"`
	HardLimit       int          `json:"hard_limit"`
	IsSoftExceeded  bool         `json:"is_soft_exceeded"`
	IsHardExceeded  bool         `json:"is_hard_exceeded"`
	AvailableSoft   *int         `json:"available_soft"`
	AvailableHard   *int         `json:"available_hard"`
	ThresholdGreen  int          `json:"threshold_green"`
	ThresholdYellow int          `json:"threshold_yellow"`
	ThresholdRed    int          `json:"threshold_red"`
	Visits          []BoardVisit `json:"visits"`
}

// BoardVisit is the per-visit card on a board, after masking.
type BoardVisit struct {
	VisitID        string         `json:"visit_id"`
	ClientID       string         `json:"client_id"`
	PetName        string         `json:"pet_name"`
	Stage          string         `json:"stage"`
	CheckInAt      *time.Time     `json:"check_in_at,omitempty"`
	ElapsedSeconds int64          `json:"elapsed_seconds"`
	TimerColor     string         `json:"timer_color"`
	Instructions   string         `json:"instructions"`
	PublicNotes    string         `json:"public_notes"`
	PrivateNotes   string         `json:"private_notes,omitempty"`
	AssignedStaff  string         `json:"assigned_staff,omitempty"`
	Guardian       *BoardGuardian `json:"guardian,omitempty"`
	Flags          []Flag         `json:"flags,omitempty"`
}

type BoardGuardian struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

const (
	TimerGreen  = "green"
	TimerYellow = "yellow"
	TimerRed    = "red"
)
