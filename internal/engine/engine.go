// Package engine owns the visit state machine and the caller-facing
// operations: stage moves, checkout, edits, board reads, and the cache
// discipline around them.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/board"
	"github.com/ocdataUS/GroomFlow-sub000/internal/cache"
	"github.com/ocdataUS/GroomFlow-sub000/internal/catalog"
	"github.com/ocdataUS/GroomFlow-sub000/internal/dwell"
	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

const (
	EventStageChanged = "visit.stage_changed"
	EventCheckedOut   = "visit.checked_out"
)

type Engine struct {
	store   store.Store
	library *catalog.Library
	cache   *cache.BoardCache
}

func New(st store.Store, library *catalog.Library, boardCache *cache.BoardCache) *Engine {
	return &Engine{store: st, library: library, cache: boardCache}
}

type MoveInput struct {
	VisitID    string
	ToStage    string
	Comment    string
	Actor      string
	OccurredAt time.Time
}

type CheckoutInput struct {
	VisitID    string
	Comment    string
	Actor      string
	OccurredAt time.Time
}

type BoardRequest struct {
	ViewRef       string
	StageKeys     []string
	MaskGuardian  bool
	MaskSensitive bool
	ReadOnly      bool
	IsPublic      bool
	ModifiedAfter time.Time
	Now           time.Time
}

type VisitDetail struct {
	models.Visit
	LiveElapsedSeconds int64                      `json:"live_elapsed_seconds"`
	History            []models.StageHistoryEntry `json:"history,omitempty"`
	Photos             []models.VisitPhoto        `json:"photos,omitempty"`
}

// Move transitions a visit to a new stage. Re-entering a stage resumes its
// banked time; moving to the current stage is an idempotent no-op that only
// touches updated_at.
func (e *Engine) Move(ctx context.Context, input MoveInput) (models.Visit, error) {
	visit, err := e.store.GetVisit(ctx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if visit.CheckOutAt != nil {
		return models.Visit{}, store.ErrAlreadyCheckedOut
	}

	stages, err := e.library.StageMap(ctx)
	if err != nil {
		return models.Visit{}, err
	}
	if _, known := stages[input.ToStage]; !known {
		return models.Visit{}, store.ErrUnknownStage
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if input.ToStage == visit.CurrentStage {
		return e.store.TouchVisit(ctx, visit.VisitID, occurredAt)
	}

	stint := dwell.Stint(visit.TimerStartedAt, occurredAt)
	base, err := e.store.HistoricalStageSeconds(ctx, visit.VisitID, input.ToStage)
	if err != nil {
		return models.Visit{}, err
	}

	started := occurredAt
	updated, err := e.store.CommitTransition(ctx, store.CommitTransitionInput{
		VisitID:             visit.VisitID,
		Version:             visit.Version,
		CurrentStage:        input.ToStage,
		Status:              models.StatusInProgress,
		TimerStartedAt:      &started,
		TimerElapsedSeconds: base,
		Entry: store.HistoryInput{
			FromStage:      visit.CurrentStage,
			ToStage:        input.ToStage,
			Comment:        input.Comment,
			ChangedBy:      input.Actor,
			ElapsedSeconds: stint,
		},
		EventType:  EventStageChanged,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return models.Visit{}, err
	}

	e.cache.InvalidateView(visit.ViewID)
	return updated, nil
}

// Checkout finalizes a visit: banks the current stage's total, freezes the
// timer, and marks the visit completed.
func (e *Engine) Checkout(ctx context.Context, input CheckoutInput) (models.Visit, error) {
	visit, err := e.store.GetVisit(ctx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if visit.CheckOutAt != nil {
		return models.Visit{}, store.ErrAlreadyCheckedOut
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	stint := dwell.Stint(visit.TimerStartedAt, occurredAt)
	historical, err := e.store.HistoricalStageSeconds(ctx, visit.VisitID, visit.CurrentStage)
	if err != nil {
		return models.Visit{}, err
	}

	updated, err := e.store.CommitTransition(ctx, store.CommitTransitionInput{
		VisitID:             visit.VisitID,
		Version:             visit.Version,
		CurrentStage:        visit.CurrentStage,
		Status:              models.StatusCompleted,
		CheckOutAt:          &occurredAt,
		TimerStartedAt:      nil,
		TimerElapsedSeconds: historical + stint,
		Entry: store.HistoryInput{
			FromStage:      visit.CurrentStage,
			ToStage:        models.StageCheckedOut,
			Comment:        input.Comment,
			ChangedBy:      input.Actor,
			ElapsedSeconds: stint,
		},
		EventType:  EventCheckedOut,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return models.Visit{}, err
	}

	e.cache.InvalidateView(visit.ViewID)
	return updated, nil
}

func (e *Engine) Create(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	visit, err := e.store.CreateVisit(ctx, input)
	if err != nil {
		return models.Visit{}, err
	}
	e.cache.InvalidateView(visit.ViewID)
	return visit, nil
}

// Update applies non-stage edits. When the visit changed boards, both the
// old and new views are invalidated.
func (e *Engine) Update(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error) {
	previous, err := e.store.GetVisit(ctx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = time.Now().UTC()
	}

	updated, err := e.store.UpdateVisit(ctx, input)
	if err != nil {
		return models.Visit{}, err
	}

	e.cache.InvalidateView(previous.ViewID)
	if updated.ViewID != previous.ViewID {
		e.cache.InvalidateView(updated.ViewID)
	}
	return updated, nil
}

// GetVisit returns the visit with its live timer and enriched history.
func (e *Engine) GetVisit(ctx context.Context, visitID string, at time.Time) (VisitDetail, error) {
	visit, err := e.store.GetVisit(ctx, visitID)
	if err != nil {
		return VisitDetail{}, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	banked := visit.TimerElapsedSeconds
	if visit.Active() {
		banked, err = e.store.HistoricalStageSeconds(ctx, visit.VisitID, visit.CurrentStage)
		if err != nil {
			return VisitDetail{}, err
		}
	}

	history, err := e.History(ctx, visitID, 50)
	if err != nil {
		return VisitDetail{}, err
	}
	photos, err := e.store.ListVisitPhotos(ctx, visitID)
	if err != nil {
		return VisitDetail{}, err
	}

	return VisitDetail{
		Visit:              visit,
		LiveElapsedSeconds: dwell.LiveElapsed(visit, banked, at),
		History:            history,
		Photos:             photos,
	}, nil
}

// History returns the visit's ledger, most recent first, with display labels
// resolved against the stage library.
func (e *Engine) History(ctx context.Context, visitID string, limit int) ([]models.StageHistoryEntry, error) {
	entries, err := e.store.ListStageHistory(ctx, visitID, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].FromLabel = e.library.Label(ctx, entries[i].FromStage)
		entries[i].ToLabel = e.library.Label(ctx, entries[i].ToStage)
	}
	return entries, nil
}

// GetBoard serves the board for a view, consulting the cache unless the
// request carries a modified_after filter. The freshness hint is fetched
// before the cache lookup so the key is content-addressed.
func (e *Engine) GetBoard(ctx context.Context, req BoardRequest) (models.BoardPayload, error) {
	view, err := e.library.View(ctx, req.ViewRef)
	if err != nil {
		return models.BoardPayload{}, err
	}

	query := store.ActiveVisitQuery{
		ViewID:        view.ViewID,
		StageKeys:     req.StageKeys,
		ModifiedAfter: req.ModifiedAfter,
	}

	// Incremental polling reads always bypass the cache.
	if !req.ModifiedAfter.IsZero() {
		return e.assemble(ctx, view, query, req)
	}

	hint, err := e.store.LatestActivity(ctx, store.ActiveVisitQuery{
		ViewID:    view.ViewID,
		StageKeys: req.StageKeys,
	})
	if err != nil {
		return models.BoardPayload{}, err
	}

	key := cache.BoardKey(cache.KeyRequest{
		ViewID:         view.ViewID,
		StageKeys:      req.StageKeys,
		MaskGuardian:   req.MaskGuardian,
		MaskSensitive:  req.MaskSensitive,
		ReadOnly:       req.ReadOnly,
		IsPublic:       req.IsPublic,
		LatestModified: hint,
	})
	if raw, found := e.cache.GetBoard(key); found {
		var payload models.BoardPayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			return payload, nil
		}
	}

	payload, err := e.assemble(ctx, view, query, req)
	if err != nil {
		return models.BoardPayload{}, err
	}
	if raw, err := json.Marshal(payload); err == nil {
		e.cache.SetBoard(view.ViewID, key, raw)
	}
	return payload, nil
}

func (e *Engine) assemble(ctx context.Context, view models.View, query store.ActiveVisitQuery, req BoardRequest) (models.BoardPayload, error) {
	stages, err := e.library.ResolveStages(ctx, view)
	if err != nil {
		return models.BoardPayload{}, err
	}
	visits, err := e.store.ListActiveVisits(ctx, query)
	if err != nil {
		return models.BoardPayload{}, err
	}
	return board.Assemble(view, stages, visits, board.Options{
		MaskGuardian:  req.MaskGuardian,
		MaskSensitive: req.MaskSensitive,
		Now:           req.Now,
	}), nil
}

// FlushCache invalidates one view's board entries, or everything when
// viewRef is empty.
func (e *Engine) FlushCache(ctx context.Context, viewRef string) error {
	if viewRef == "" {
		e.cache.Flush()
		return nil
	}
	view, err := e.library.View(ctx, viewRef)
	if err != nil {
		return err
	}
	e.cache.InvalidateView(view.ViewID)
	return nil
}

func (e *Engine) AttachPhoto(ctx context.Context, input store.AttachPhotoInput) (models.VisitPhoto, error) {
	photo, err := e.store.AttachPhoto(ctx, input)
	if err != nil {
		return models.VisitPhoto{}, err
	}
	e.invalidateVisitView(ctx, input.VisitID)
	return photo, nil
}

func (e *Engine) SetPhotoVisibility(ctx context.Context, visitID, attachmentID string, visible bool) error {
	if err := e.store.SetPhotoVisibility(ctx, visitID, attachmentID, visible); err != nil {
		return err
	}
	e.invalidateVisitView(ctx, visitID)
	return nil
}

func (e *Engine) SetPrimaryPhoto(ctx context.Context, visitID, attachmentID string) error {
	if err := e.store.SetPrimaryPhoto(ctx, visitID, attachmentID); err != nil {
		return err
	}
	e.invalidateVisitView(ctx, visitID)
	return nil
}

func (e *Engine) invalidateVisitView(ctx context.Context, visitID string) {
	visit, err := e.store.GetVisit(ctx, visitID)
	if err != nil {
		return
	}
	e.cache.InvalidateView(visit.ViewID)
}

// UpsertStage writes a stage definition; a structural change invalidates all
// cached metadata and every cached board.
func (e *Engine) UpsertStage(ctx context.Context, def models.StageDefinition) error {
	if err := e.store.UpsertStageDefinition(ctx, def); err != nil {
		return err
	}
	e.library.Invalidate()
	e.cache.Flush()
	return nil
}

func (e *Engine) UpsertView(ctx context.Context, view models.View, stages []models.ViewStage) error {
	if err := e.store.UpsertView(ctx, view, stages); err != nil {
		return err
	}
	e.library.Invalidate()
	e.cache.InvalidateView(view.ViewID)
	return nil
}

func (e *Engine) Views(ctx context.Context) ([]models.View, error) {
	return e.library.Views(ctx)
}

func (e *Engine) Stages(ctx context.Context) ([]models.StageDefinition, error) {
	return e.library.Stages(ctx)
}

func (e *Engine) View(ctx context.Context, idOrSlug string) (models.View, error) {
	return e.library.View(ctx, idOrSlug)
}

func (e *Engine) Events(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	return e.store.ListOutboxEvents(ctx, after, limit)
}
