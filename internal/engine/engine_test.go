package engine

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/cache"
	"github.com/ocdataUS/GroomFlow-sub000/internal/catalog"
	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory store.Store used to drive the engine without a
// database. onGetVisit lets tests interleave a concurrent write between the
// engine's read and its commit.
type memStore struct {
	visits     map[string]models.Visit
	history    []models.StageHistoryEntry
	stages     []models.StageDefinition
	views      map[string]models.View
	viewStages map[string][]models.ViewStage
	photos     map[string][]models.VisitPhoto
	events     []store.OutboxEvent

	onGetVisit      func()
	listActiveCalls int
}

func newMemStore() *memStore {
	return &memStore{
		visits:     map[string]models.Visit{},
		views:      map[string]models.View{},
		viewStages: map[string][]models.ViewStage{},
		photos:     map[string][]models.VisitPhoto{},
		stages: []models.StageDefinition{
			{StageKey: "check_in", Label: "Check-In", SortOrder: 1},
			{StageKey: "bath", Label: "Bath", SortOrder: 2},
			{StageKey: "dry", Label: "Dry", SortOrder: 3},
		},
	}
}

func (m *memStore) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	checkIn := input.CheckInAt
	visit := models.Visit{
		VisitID:        "visit-" + strconv.Itoa(len(m.visits)+1),
		ClientID:       input.ClientID,
		ViewID:         input.ViewID,
		PetName:        input.PetName,
		CurrentStage:   input.InitialStage,
		Status:         models.StatusInProgress,
		CheckInAt:      &checkIn,
		TimerStartedAt: &checkIn,
		Version:        1,
		CreatedAt:      checkIn,
		UpdatedAt:      checkIn,
	}
	m.visits[visit.VisitID] = visit
	return visit, nil
}

func (m *memStore) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	visit, ok := m.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	if m.onGetVisit != nil {
		hook := m.onGetVisit
		m.onGetVisit = nil
		hook()
	}
	return visit, nil
}

func (m *memStore) TouchVisit(ctx context.Context, visitID string, at time.Time) (models.Visit, error) {
	visit, ok := m.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	visit.UpdatedAt = at
	m.visits[visitID] = visit
	return visit, nil
}

func (m *memStore) UpdateVisit(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error) {
	visit, ok := m.visits[input.VisitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	if input.ViewID != nil {
		visit.ViewID = *input.ViewID
	}
	if input.PetName != nil {
		visit.PetName = *input.PetName
	}
	if input.Instructions != nil {
		visit.Instructions = *input.Instructions
	}
	visit.Version++
	visit.UpdatedAt = input.OccurredAt
	m.visits[input.VisitID] = visit
	return visit, nil
}

func (m *memStore) CommitTransition(ctx context.Context, input store.CommitTransitionInput) (models.Visit, error) {
	visit, ok := m.visits[input.VisitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	if visit.Version != input.Version {
		return models.Visit{}, store.ErrVersionConflict
	}
	visit.CurrentStage = input.CurrentStage
	visit.Status = input.Status
	visit.CheckOutAt = input.CheckOutAt
	visit.TimerStartedAt = input.TimerStartedAt
	visit.TimerElapsedSeconds = input.TimerElapsedSeconds
	visit.Version++
	visit.UpdatedAt = input.OccurredAt
	m.visits[input.VisitID] = visit

	m.history = append(m.history, models.StageHistoryEntry{
		EntryID:        "entry-" + strconv.Itoa(len(m.history)+1),
		VisitID:        input.VisitID,
		FromStage:      input.Entry.FromStage,
		ToStage:        input.Entry.ToStage,
		Comment:        input.Entry.Comment,
		ChangedBy:      input.Entry.ChangedBy,
		ChangedAt:      input.OccurredAt,
		ElapsedSeconds: input.Entry.ElapsedSeconds,
	})
	m.events = append(m.events, store.OutboxEvent{
		EventID:   "event-" + strconv.Itoa(len(m.events)+1),
		Type:      input.EventType,
		CreatedAt: input.OccurredAt,
	})
	return visit, nil
}

func (m *memStore) HistoricalStageSeconds(ctx context.Context, visitID, stageKey string) (int64, error) {
	var total int64
	for _, entry := range m.history {
		if entry.VisitID == visitID && entry.FromStage == stageKey {
			total += entry.ElapsedSeconds
		}
	}
	return total, nil
}

func (m *memStore) ListStageHistory(ctx context.Context, visitID string, limit int) ([]models.StageHistoryEntry, error) {
	var entries []models.StageHistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].VisitID == visitID {
			entries = append(entries, m.history[i])
		}
	}
	return entries, nil
}

func (m *memStore) ListActiveVisits(ctx context.Context, query store.ActiveVisitQuery) ([]models.Visit, error) {
	m.listActiveCalls++
	var visits []models.Visit
	for _, visit := range m.visits {
		if visit.ViewID != query.ViewID || !visit.Active() {
			continue
		}
		if !query.ModifiedAfter.IsZero() && visit.UpdatedAt.Before(query.ModifiedAfter) {
			continue
		}
		if len(query.StageKeys) > 0 {
			match := false
			for _, key := range query.StageKeys {
				if key == visit.CurrentStage {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		visits = append(visits, visit)
	}
	return visits, nil
}

func (m *memStore) LatestActivity(ctx context.Context, query store.ActiveVisitQuery) (time.Time, error) {
	var latest time.Time
	for _, visit := range m.visits {
		if visit.ViewID == query.ViewID && visit.Active() && visit.UpdatedAt.After(latest) {
			latest = visit.UpdatedAt
		}
	}
	return latest, nil
}

func (m *memStore) ListStageDefinitions(ctx context.Context) ([]models.StageDefinition, error) {
	return m.stages, nil
}

func (m *memStore) UpsertStageDefinition(ctx context.Context, def models.StageDefinition) error {
	m.stages = append(m.stages, def)
	return nil
}

func (m *memStore) GetView(ctx context.Context, idOrSlug string) (models.View, error) {
	for _, view := range m.views {
		if view.ViewID == idOrSlug || view.Slug == idOrSlug {
			return view, nil
		}
	}
	return models.View{}, store.ErrViewNotFound
}

func (m *memStore) ListViews(ctx context.Context) ([]models.View, error) {
	var views []models.View
	for _, view := range m.views {
		views = append(views, view)
	}
	return views, nil
}

func (m *memStore) ListViewStages(ctx context.Context, viewID string) ([]models.ViewStage, error) {
	return m.viewStages[viewID], nil
}

func (m *memStore) UpsertView(ctx context.Context, view models.View, stages []models.ViewStage) error {
	m.views[view.ViewID] = view
	m.viewStages[view.ViewID] = stages
	return nil
}

func (m *memStore) AttachPhoto(ctx context.Context, input store.AttachPhotoInput) (models.VisitPhoto, error) {
	photo := models.VisitPhoto{
		AttachmentID:    input.AttachmentID,
		VisitID:         input.VisitID,
		GuardianVisible: input.GuardianVisible,
		Primary:         input.Primary,
	}
	m.photos[input.VisitID] = append(m.photos[input.VisitID], photo)
	return photo, nil
}

func (m *memStore) SetPhotoVisibility(ctx context.Context, visitID, attachmentID string, visible bool) error {
	return nil
}

func (m *memStore) SetPrimaryPhoto(ctx context.Context, visitID, attachmentID string) error {
	return nil
}

func (m *memStore) ListVisitPhotos(ctx context.Context, visitID string) ([]models.VisitPhoto, error) {
	return m.photos[visitID], nil
}

func (m *memStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	return m.events, nil
}

func newTestEngine() (*Engine, *memStore) {
	st := newMemStore()
	st.views["view-1"] = models.View{
		ViewID:          "view-1",
		Slug:            "main-floor",
		Name:            "Main Floor",
		Type:            models.ViewTypeInternal,
		RefreshInterval: 10,
		ShowGuardian:    true,
	}
	boardCache := cache.New(cache.NewMemoryBackend(0), cache.Options{})
	library := catalog.New(st, boardCache)
	return New(st, library, boardCache), st
}

func seedVisit(t *testing.T, eng *Engine) models.Visit {
	t.Helper()
	visit, err := eng.Create(context.Background(), store.CreateVisitInput{
		ClientID:     "client-1",
		ViewID:       "view-1",
		PetName:      "Biscuit",
		InitialStage: "bath",
		CheckInAt:    baseTime,
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return visit
}

func TestMoveAccumulatesBankedTime(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	visit := seedVisit(t, eng)

	// 600s in bath, then away, then back.
	moved, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "dry", Actor: "sam", OccurredAt: baseTime.Add(600 * time.Second)})
	if err != nil {
		t.Fatalf("move to dry: %v", err)
	}
	if moved.TimerElapsedSeconds != 0 {
		t.Fatalf("fresh stage must start at 0, got %d", moved.TimerElapsedSeconds)
	}
	if st.history[0].ElapsedSeconds != 600 {
		t.Fatalf("ledger stint=%d, want 600", st.history[0].ElapsedSeconds)
	}

	back, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "bath", Actor: "sam", OccurredAt: baseTime.Add(700 * time.Second)})
	if err != nil {
		t.Fatalf("move back to bath: %v", err)
	}
	if back.TimerElapsedSeconds != 600 {
		t.Fatalf("banked base=%d, want 600", back.TimerElapsedSeconds)
	}

	detail, err := eng.GetVisit(ctx, visit.VisitID, baseTime.Add(820*time.Second))
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	if detail.LiveElapsedSeconds != 720 {
		t.Fatalf("live elapsed=%d, want 720", detail.LiveElapsedSeconds)
	}
}

func TestMoveSameStageNoOp(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	visit := seedVisit(t, eng)

	touched, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "bath", OccurredAt: baseTime.Add(time.Minute)})
	if err != nil {
		t.Fatalf("no-op move: %v", err)
	}
	if len(st.history) != 0 {
		t.Fatalf("no-op move must not write the ledger: %+v", st.history)
	}
	if touched.Version != visit.Version {
		t.Fatalf("no-op move must not bump version")
	}
	if !touched.UpdatedAt.After(visit.UpdatedAt) {
		t.Fatalf("no-op move must touch updated_at")
	}
}

func TestMoveUnknownStage(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine()
	visit := seedVisit(t, eng)

	if _, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "grooming_spa"}); !errors.Is(err, store.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
	if _, err := eng.Move(ctx, MoveInput{VisitID: "ghost", ToStage: "dry"}); !errors.Is(err, store.ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}

func TestMoveVersionConflict(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	visit := seedVisit(t, eng)

	// A concurrent writer lands between the engine's read and its commit.
	st.onGetVisit = func() {
		stale := st.visits[visit.VisitID]
		stale.Version++
		st.visits[visit.VisitID] = stale
	}
	if _, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "dry", OccurredAt: baseTime.Add(time.Minute)}); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestCheckoutFreezesTimer(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine()
	visit := seedVisit(t, eng)

	done, err := eng.Checkout(ctx, CheckoutInput{VisitID: visit.VisitID, Actor: "sam", OccurredAt: baseTime.Add(600 * time.Second)})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if done.Status != models.StatusCompleted || done.CheckOutAt == nil || done.TimerStartedAt != nil {
		t.Fatalf("checkout did not finalize: %+v", done)
	}
	if done.TimerElapsedSeconds != 600 {
		t.Fatalf("frozen total=%d, want 600", done.TimerElapsedSeconds)
	}

	if _, err := eng.Checkout(ctx, CheckoutInput{VisitID: visit.VisitID, OccurredAt: baseTime.Add(700 * time.Second)}); !errors.Is(err, store.ErrAlreadyCheckedOut) {
		t.Fatalf("expected ErrAlreadyCheckedOut, got %v", err)
	}
	if _, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "dry", OccurredAt: baseTime.Add(700 * time.Second)}); !errors.Is(err, store.ErrAlreadyCheckedOut) {
		t.Fatalf("move after checkout: expected ErrAlreadyCheckedOut, got %v", err)
	}

	// The timer stays frozen no matter how much later it is read.
	detail, err := eng.GetVisit(ctx, visit.VisitID, baseTime.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	if detail.LiveElapsedSeconds != 600 {
		t.Fatalf("frozen elapsed=%d, want 600", detail.LiveElapsedSeconds)
	}
}

func TestGetBoardCacheCoherence(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	visit := seedVisit(t, eng)

	req := BoardRequest{ViewRef: "main-floor", Now: baseTime.Add(time.Minute)}
	first, err := eng.GetBoard(ctx, req)
	if err != nil {
		t.Fatalf("first board: %v", err)
	}
	if first.VisitCount != 1 {
		t.Fatalf("visit count=%d, want 1", first.VisitCount)
	}
	if _, err := eng.GetBoard(ctx, req); err != nil {
		t.Fatalf("second board: %v", err)
	}
	if st.listActiveCalls != 1 {
		t.Fatalf("identical request must be served from cache, store reads=%d", st.listActiveCalls)
	}

	if _, err := eng.Move(ctx, MoveInput{VisitID: visit.VisitID, ToStage: "dry", OccurredAt: baseTime.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("move: %v", err)
	}
	board, err := eng.GetBoard(ctx, req)
	if err != nil {
		t.Fatalf("board after move: %v", err)
	}
	if st.listActiveCalls != 2 {
		t.Fatalf("move must invalidate the cached board, store reads=%d", st.listActiveCalls)
	}
	if board.Stages[2].VisitCount != 1 {
		t.Fatalf("moved visit missing from dry bucket: %+v", board.Stages)
	}

	// Incremental polling bypasses the cache entirely.
	if _, err := eng.GetBoard(ctx, BoardRequest{ViewRef: "main-floor", ModifiedAfter: baseTime, Now: baseTime.Add(3 * time.Minute)}); err != nil {
		t.Fatalf("incremental board: %v", err)
	}
	if st.listActiveCalls != 3 {
		t.Fatalf("modified_after request must bypass cache, store reads=%d", st.listActiveCalls)
	}

	if _, err := eng.GetBoard(ctx, BoardRequest{ViewRef: "nowhere"}); !errors.Is(err, store.ErrViewNotFound) {
		t.Fatalf("expected ErrViewNotFound, got %v", err)
	}
}

func TestGetBoardModifiedAfterIncludesWatermark(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine()
	visit := seedVisit(t, eng)

	// A poller passing the exact last_updated watermark still sees a write
	// that landed at that timestamp.
	board, err := eng.GetBoard(ctx, BoardRequest{ViewRef: "main-floor", ModifiedAfter: visit.UpdatedAt, Now: baseTime.Add(time.Minute)})
	if err != nil {
		t.Fatalf("board at watermark: %v", err)
	}
	if board.VisitCount != 1 {
		t.Fatalf("visit updated at the watermark dropped: count=%d, want 1", board.VisitCount)
	}

	board, err = eng.GetBoard(ctx, BoardRequest{ViewRef: "main-floor", ModifiedAfter: visit.UpdatedAt.Add(time.Second), Now: baseTime.Add(time.Minute)})
	if err != nil {
		t.Fatalf("board past watermark: %v", err)
	}
	if board.VisitCount != 0 {
		t.Fatalf("stale visit leaked past the watermark: count=%d, want 0", board.VisitCount)
	}
}

func TestMaskedBoardsUseDistinctCacheEntries(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine()
	seedVisit(t, eng)

	open := BoardRequest{ViewRef: "main-floor", Now: baseTime.Add(time.Minute)}
	masked := BoardRequest{ViewRef: "main-floor", MaskGuardian: true, MaskSensitive: true, IsPublic: true, Now: baseTime.Add(time.Minute)}

	if _, err := eng.GetBoard(ctx, open); err != nil {
		t.Fatalf("open board: %v", err)
	}
	if _, err := eng.GetBoard(ctx, masked); err != nil {
		t.Fatalf("masked board: %v", err)
	}
	if st.listActiveCalls != 2 {
		t.Fatalf("mask flags must partition the cache, store reads=%d", st.listActiveCalls)
	}
}
