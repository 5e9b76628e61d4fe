package models

type StageDefinition struct {
	StageKey          string `json:"stage_key"`
	Label             string `json:"label"`
	CapacitySoftLimit int    `json:"capacity_soft_limit"`
	CapacityHardLimit int    `json:"capacity_hard_limit"`
	// Thresholds are authored in seconds, or in minutes when <= 120.
	TimerThresholdGreen  int `json:"timer_threshold_green"`
	TimerThresholdYellow int `json:"timer_threshold_yellow"`
	TimerThresholdRed    int `json:"timer_threshold_red"`
	SortOrder            int `json:"sort_order"`
}
