// Package board projects active visits for a view into stage buckets with
// capacity and timer annotations. Assembly is pure: storage reads and cache
// population happen in the engine.
package board

import (
	"sort"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/catalog"
	"github.com/ocdataUS/GroomFlow-sub000/internal/dwell"
	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
)

// Thresholds at or below this value are treated as minutes, an authoring
// convenience carried over from the stage editor.
const minuteThresholdCutoff = 120

type Options struct {
	MaskGuardian  bool
	MaskSensitive bool
	Now           time.Time
}

func Assemble(view models.View, stages []catalog.ResolvedStage, visits []models.Visit, opts Options) models.BoardPayload {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	buckets := make([]models.StageBucket, 0, len(stages)+1)
	index := make(map[string]int, len(stages))
	for _, stage := range stages {
		green, yellow, red := normalizeThresholds(stage.ThresholdGreen, stage.ThresholdYellow, stage.ThresholdRed)
		index[stage.StageKey] = len(buckets)
		buckets = append(buckets, models.StageBucket{
			StageKey:        stage.StageKey,
			Label:           stage.Label,
			SortOrder:       stage.SortOrder,
			SoftLimit:       stage.SoftLimit,
			HardLimit:       stage.HardLimit,
			ThresholdGreen:  green,
			ThresholdYellow: yellow,
			ThresholdRed:    red,
			Visits:          []models.BoardVisit{},
		})
	}

	var lastUpdated *time.Time
	total := 0
	var orphanKeys []string
	orphaned := make(map[string][]models.BoardVisit)

	sortVisits(visits)
	for _, visit := range visits {
		stageKey := visit.CurrentStage
		if stageKey == "" {
			// Should not occur given invariants, but tolerated.
			stageKey = models.StageUnassigned
		}

		idx, known := index[stageKey]
		card := buildCard(visit, stageKey, now, opts, view)
		if known {
			elapsed := card.ElapsedSeconds
			bucket := &buckets[idx]
			card.TimerColor = timerColor(elapsed, bucket.ThresholdYellow, bucket.ThresholdRed)
			bucket.Visits = append(bucket.Visits, card)
		} else {
			if _, seen := orphaned[stageKey]; !seen {
				orphanKeys = append(orphanKeys, stageKey)
			}
			card.TimerColor = models.TimerGreen
			orphaned[stageKey] = append(orphaned[stageKey], card)
		}
		total++
		if lastUpdated == nil || visit.UpdatedAt.After(*lastUpdated) {
			updated := visit.UpdatedAt
			lastUpdated = &updated
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].SortOrder < buckets[j].SortOrder
	})

	// Orphaned stage keys get a synthesized bucket appended after all known
	// stages. Their configured sort order is gone with the deleted
	// definition, so they order among themselves by key.
	sort.Strings(orphanKeys)
	maxOrder := 0
	for _, bucket := range buckets {
		if bucket.SortOrder > maxOrder {
			maxOrder = bucket.SortOrder
		}
	}
	for i, key := range orphanKeys {
		buckets = append(buckets, models.StageBucket{
			StageKey:    key,
			Label:       catalog.HumanizeStageKey(key),
			SortOrder:   maxOrder + i + 1,
			Synthesized: true,
			Visits:      orphaned[key],
		})
	}

	for i := range buckets {
		annotateCapacity(&buckets[i])
	}

	return models.BoardPayload{
		ViewID:          view.ViewID,
		Slug:            view.Slug,
		Name:            view.Name,
		Type:            view.Type,
		RefreshInterval: view.RefreshInterval,
		Stages:          buckets,
		VisitCount:      total,
		LastUpdated:     lastUpdated,
		GeneratedAt:     now,
	}
}

// sortVisits orders by admission time, oldest first: FIFO within a stage.
func sortVisits(visits []models.Visit) {
	sort.SliceStable(visits, func(i, j int) bool {
		return admittedAt(visits[i]).Before(admittedAt(visits[j]))
	})
}

func admittedAt(visit models.Visit) time.Time {
	if visit.CheckInAt != nil {
		return *visit.CheckInAt
	}
	return visit.CreatedAt
}

func buildCard(visit models.Visit, stageKey string, now time.Time, opts Options, view models.View) models.BoardVisit {
	card := models.BoardVisit{
		VisitID:        visit.VisitID,
		ClientID:       visit.ClientID,
		PetName:        visit.PetName,
		Stage:          stageKey,
		CheckInAt:      visit.CheckInAt,
		ElapsedSeconds: dwell.LiveElapsed(visit, visit.TimerElapsedSeconds, now),
		Instructions:   visit.Instructions,
		PublicNotes:    visit.PublicNotes,
		PrivateNotes:   visit.PrivateNotes,
		AssignedStaff:  visit.AssignedStaff,
	}

	if opts.MaskSensitive {
		card.Instructions = ""
		card.PrivateNotes = ""
		card.PublicNotes = ""
		card.AssignedStaff = ""
		for _, flag := range visit.Flags {
			if !models.SensitiveSeverity(flag.Severity) {
				card.Flags = append(card.Flags, flag)
			}
		}
	} else {
		card.Flags = visit.Flags
	}

	if !opts.MaskGuardian && view.ShowGuardian && visit.GuardianName != "" {
		card.Guardian = &models.BoardGuardian{
			Name:  visit.GuardianName,
			Phone: visit.GuardianPhone,
			Email: visit.GuardianEmail,
		}
	}
	return card
}

func annotateCapacity(bucket *models.StageBucket) {
	count := len(bucket.Visits)
	bucket.VisitCount = count
	bucket.IsSoftExceeded = bucket.SoftLimit > 0 && count > bucket.SoftLimit
	bucket.IsHardExceeded = bucket.HardLimit > 0 && count > bucket.HardLimit
	if bucket.SoftLimit > 0 {
		bucket.AvailableSoft = available(bucket.SoftLimit, count)
	}
	if bucket.HardLimit > 0 {
		bucket.AvailableHard = available(bucket.HardLimit, count)
	}
}

func available(limit, count int) *int {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// normalizeThresholds converts minute-authored values to seconds and clamps
// the trio monotonic so yellow never precedes green nor red yellow.
func normalizeThresholds(green, yellow, red int) (int, int, int) {
	green = toSeconds(green)
	yellow = toSeconds(yellow)
	red = toSeconds(red)
	if yellow < green {
		yellow = green
	}
	if red < yellow {
		red = yellow
	}
	return green, yellow, red
}

func toSeconds(value int) int {
	if value > 0 && value <= minuteThresholdCutoff {
		return value * 60
	}
	return value
}

func timerColor(elapsed int64, yellow, red int) string {
	if red > 0 && elapsed >= int64(red) {
		return models.TimerRed
	}
	if yellow > 0 && elapsed >= int64(yellow) {
		return models.TimerYellow
	}
	return models.TimerGreen
}
