package models

type View struct {
	ViewID          string `json:"view_id"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	AllowSwitcher   bool   `json:"allow_switcher"`
	RefreshInterval int    `json:"refresh_interval"`
	ShowGuardian    bool   `json:"show_guardian"`
	PublicTokenHash string `json:"-"`
}

const (
	ViewTypeInternal = "internal"
	ViewTypeLobby    = "lobby"
	ViewTypeKiosk    = "kiosk"
)

// ViewStage is a per-view override row; zero values fall back to the
// global stage definition.
type ViewStage struct {
	ViewID               string `json:"view_id"`
	StageKey             string `json:"stage_key"`
	Label                string `json:"label,omitempty"`
	CapacitySoftLimit    int    `json:"capacity_soft_limit"`
	CapacityHardLimit    int    `json:"capacity_hard_limit"`
	TimerThresholdGreen  int    `json:"timer_threshold_green"`
	TimerThresholdYellow int    `json:"timer_threshold_yellow"`
	TimerThresholdRed    int    `json:"timer_threshold_red"`
	Position             int    `json:"position"`
}
