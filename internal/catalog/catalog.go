// Package catalog serves the stage library and view definitions. Both are
// read-heavy and write-rare, so reads go through the metadata cache group
// and structural writes invalidate it.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ocdataUS/GroomFlow-sub000/internal/cache"
	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

const (
	metaKeyStages = "stage_definitions"
	metaKeyViews  = "views"
)

type Library struct {
	store store.Store
	cache *cache.BoardCache
}

func New(st store.Store, boardCache *cache.BoardCache) *Library {
	return &Library{store: st, cache: boardCache}
}

func (l *Library) Stages(ctx context.Context) ([]models.StageDefinition, error) {
	if raw, found := l.cache.GetMeta(metaKeyStages); found {
		var defs []models.StageDefinition
		if err := json.Unmarshal(raw, &defs); err == nil {
			return defs, nil
		}
	}
	defs, err := l.store.ListStageDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(defs); err == nil {
		l.cache.SetMeta(metaKeyStages, raw)
	}
	return defs, nil
}

func (l *Library) StageMap(ctx context.Context) (map[string]models.StageDefinition, error) {
	defs, err := l.Stages(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]models.StageDefinition, len(defs))
	for _, def := range defs {
		byKey[def.StageKey] = def
	}
	return byKey, nil
}

func (l *Library) View(ctx context.Context, idOrSlug string) (models.View, error) {
	if raw, found := l.cache.GetMeta("view/" + idOrSlug); found {
		var view models.View
		if err := json.Unmarshal(raw, &view); err == nil {
			return view, nil
		}
	}
	view, err := l.store.GetView(ctx, idOrSlug)
	if err != nil {
		return models.View{}, err
	}
	if raw, err := json.Marshal(view); err == nil {
		l.cache.SetMeta("view/"+idOrSlug, raw)
	}
	return view, nil
}

func (l *Library) Views(ctx context.Context) ([]models.View, error) {
	if raw, found := l.cache.GetMeta(metaKeyViews); found {
		var views []models.View
		if err := json.Unmarshal(raw, &views); err == nil {
			return views, nil
		}
	}
	views, err := l.store.ListViews(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(views); err == nil {
		l.cache.SetMeta(metaKeyViews, raw)
	}
	return views, nil
}

func (l *Library) ViewStages(ctx context.Context, viewID string) ([]models.ViewStage, error) {
	if raw, found := l.cache.GetMeta("view_stages/" + viewID); found {
		var rows []models.ViewStage
		if err := json.Unmarshal(raw, &rows); err == nil {
			return rows, nil
		}
	}
	rows, err := l.store.ListViewStages(ctx, viewID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rows); err == nil {
		l.cache.SetMeta("view_stages/"+viewID, raw)
	}
	return rows, nil
}

// ResolvedStage is one column of a board before assembly: per-view overrides
// folded over the global definition. Thresholds stay as authored; the
// assembler normalizes them.
type ResolvedStage struct {
	StageKey        string
	Label           string
	SoftLimit       int
	HardLimit       int
	ThresholdGreen  int
	ThresholdYellow int
	ThresholdRed    int
	SortOrder       int
	Synthesized     bool
}

// ResolveStages returns the view's ordered stage list: its ViewStage rows
// when present, otherwise the global library in defined order.
func (l *Library) ResolveStages(ctx context.Context, view models.View) ([]ResolvedStage, error) {
	byKey, err := l.StageMap(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := l.ViewStages(ctx, view.ViewID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		defs, err := l.Stages(ctx)
		if err != nil {
			return nil, err
		}
		resolved := make([]ResolvedStage, 0, len(defs))
		for _, def := range defs {
			resolved = append(resolved, ResolvedStage{
				StageKey:        def.StageKey,
				Label:           def.Label,
				SoftLimit:       def.CapacitySoftLimit,
				HardLimit:       def.CapacityHardLimit,
				ThresholdGreen:  def.TimerThresholdGreen,
				ThresholdYellow: def.TimerThresholdYellow,
				ThresholdRed:    def.TimerThresholdRed,
				SortOrder:       def.SortOrder,
			})
		}
		return resolved, nil
	}

	resolved := make([]ResolvedStage, 0, len(rows))
	for _, row := range rows {
		stage := ResolvedStage{
			StageKey:        row.StageKey,
			Label:           row.Label,
			SoftLimit:       row.CapacitySoftLimit,
			HardLimit:       row.CapacityHardLimit,
			ThresholdGreen:  row.TimerThresholdGreen,
			ThresholdYellow: row.TimerThresholdYellow,
			ThresholdRed:    row.TimerThresholdRed,
			SortOrder:       row.Position,
		}
		if def, ok := byKey[row.StageKey]; ok {
			if stage.Label == "" {
				stage.Label = def.Label
			}
			if stage.SoftLimit == 0 {
				stage.SoftLimit = def.CapacitySoftLimit
			}
			if stage.HardLimit == 0 {
				stage.HardLimit = def.CapacityHardLimit
			}
			if stage.ThresholdGreen == 0 {
				stage.ThresholdGreen = def.TimerThresholdGreen
			}
			if stage.ThresholdYellow == 0 {
				stage.ThresholdYellow = def.TimerThresholdYellow
			}
			if stage.ThresholdRed == 0 {
				stage.ThresholdRed = def.TimerThresholdRed
			}
		}
		if stage.Label == "" {
			stage.Label = HumanizeStageKey(row.StageKey)
		}
		resolved = append(resolved, stage)
	}
	return resolved, nil
}

// Label resolves a stage key to its display label, falling back to a
// humanized key for stages no longer in the library.
func (l *Library) Label(ctx context.Context, stageKey string) string {
	byKey, err := l.StageMap(ctx)
	if err == nil {
		if def, ok := byKey[stageKey]; ok && def.Label != "" {
			return def.Label
		}
	}
	return HumanizeStageKey(stageKey)
}

// Invalidate drops cached metadata after a structural stage/view change.
func (l *Library) Invalidate() {
	l.cache.InvalidateMeta()
}

// HumanizeStageKey turns a raw key like "dry_clean" into "Dry Clean".
func HumanizeStageKey(key string) string {
	if key == "" {
		return ""
	}
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}
