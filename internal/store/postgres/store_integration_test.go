package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

func TestCommitTransitionVersionConflict(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	viewID := seedView(t, ctx, st)
	visit := createTestVisit(t, ctx, st, viewID)

	now := time.Now().UTC()
	first := transitionInput(visit, "bath", now)
	if _, err := st.CommitTransition(ctx, first); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Same snapshot version again: the row moved on, CAS must refuse.
	second := transitionInput(visit, "dry", now.Add(time.Second))
	if _, err := st.CommitTransition(ctx, second); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestCommitTransitionWritesLedgerAndOutbox(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	viewID := seedView(t, ctx, st)
	visit := createTestVisit(t, ctx, st, viewID)

	now := time.Now().UTC()
	input := transitionInput(visit, "bath", now)
	input.Entry.ElapsedSeconds = 600
	updated, err := st.CommitTransition(ctx, input)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.CurrentStage != "bath" || updated.Version != visit.Version+1 {
		t.Fatalf("unexpected visit after transition: %+v", updated)
	}

	banked, err := st.HistoricalStageSeconds(ctx, visit.VisitID, "check_in")
	if err != nil {
		t.Fatalf("historical seconds: %v", err)
	}
	if banked != 600 {
		t.Fatalf("banked=%d, want 600", banked)
	}

	var count int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE type = 'visit.stage_changed'
	`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stage_changed event, got %d", count)
	}
}

func TestListActiveVisitsFilters(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	viewID := seedView(t, ctx, st)
	a := createTestVisit(t, ctx, st, viewID)
	b := createTestVisit(t, ctx, st, viewID)

	now := time.Now().UTC()
	if _, err := st.CommitTransition(ctx, transitionInput(b, "bath", now)); err != nil {
		t.Fatalf("move b: %v", err)
	}

	visits, err := st.ListActiveVisits(ctx, store.ActiveVisitQuery{ViewID: viewID, StageKeys: []string{"bath"}})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(visits) != 1 || visits[0].VisitID != b.VisitID {
		t.Fatalf("stage filter wrong: %+v", visits)
	}

	checkout := transitionInput(a, a.CurrentStage, now)
	checkout.Status = models.StatusCompleted
	checkoutAt := now
	checkout.CheckOutAt = &checkoutAt
	checkout.TimerStartedAt = nil
	checkout.Entry.ToStage = models.StageCheckedOut
	checkout.EventType = "visit.checked_out"
	if _, err := st.CommitTransition(ctx, checkout); err != nil {
		t.Fatalf("checkout a: %v", err)
	}

	visits, err = st.ListActiveVisits(ctx, store.ActiveVisitQuery{ViewID: viewID})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(visits) != 1 || visits[0].VisitID != b.VisitID {
		t.Fatalf("completed visit still listed: %+v", visits)
	}

	// The modified_after watermark is inclusive: a visit updated exactly at
	// the watermark is still returned.
	moved, err := st.GetVisit(ctx, b.VisitID)
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	visits, err = st.ListActiveVisits(ctx, store.ActiveVisitQuery{ViewID: viewID, ModifiedAfter: moved.UpdatedAt})
	if err != nil {
		t.Fatalf("list at watermark: %v", err)
	}
	if len(visits) != 1 || visits[0].VisitID != b.VisitID {
		t.Fatalf("visit updated at the watermark missing: %+v", visits)
	}
	visits, err = st.ListActiveVisits(ctx, store.ActiveVisitQuery{ViewID: viewID, ModifiedAfter: moved.UpdatedAt.Add(time.Millisecond)})
	if err != nil {
		t.Fatalf("list past watermark: %v", err)
	}
	if len(visits) != 0 {
		t.Fatalf("visit leaked past the watermark: %+v", visits)
	}

	latest, err := st.LatestActivity(ctx, store.ActiveVisitQuery{ViewID: viewID})
	if err != nil {
		t.Fatalf("latest activity: %v", err)
	}
	if latest.IsZero() {
		t.Fatalf("expected non-zero activity watermark")
	}
}

func TestAttachPhotoConflict(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	viewID := seedView(t, ctx, st)
	visit := createTestVisit(t, ctx, st, viewID)

	attachmentID := uuid.NewString()
	if _, err := st.AttachPhoto(ctx, store.AttachPhotoInput{
		VisitID:      visit.VisitID,
		AttachmentID: attachmentID,
		Primary:      true,
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// Re-attaching to the same visit is idempotent and returns the
	// existing link.
	again, err := st.AttachPhoto(ctx, store.AttachPhotoInput{
		VisitID:      visit.VisitID,
		AttachmentID: attachmentID,
	})
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if again.AttachmentID != attachmentID || again.VisitID != visit.VisitID || !again.Primary {
		t.Fatalf("unexpected re-attach result: %+v", again)
	}

	photos, err := st.ListVisitPhotos(ctx, visit.VisitID)
	if err != nil {
		t.Fatalf("list photos: %v", err)
	}
	if len(photos) != 1 || !photos[0].Primary {
		t.Fatalf("unexpected photos: %+v", photos)
	}

	// The same attachment on another visit is a conflict.
	other := createTestVisit(t, ctx, st, viewID)
	if _, err := st.AttachPhoto(ctx, store.AttachPhotoInput{
		VisitID:      other.VisitID,
		AttachmentID: attachmentID,
	}); !errors.Is(err, store.ErrPhotoAlreadyLinked) {
		t.Fatalf("expected ErrPhotoAlreadyLinked, got %v", err)
	}
}

func transitionInput(visit models.Visit, toStage string, at time.Time) store.CommitTransitionInput {
	started := at
	return store.CommitTransitionInput{
		VisitID:        visit.VisitID,
		Version:        visit.Version,
		CurrentStage:   toStage,
		Status:         models.StatusInProgress,
		TimerStartedAt: &started,
		Entry: store.HistoryInput{
			FromStage: visit.CurrentStage,
			ToStage:   toStage,
			ChangedBy: "tester",
		},
		EventType:  "visit.stage_changed",
		OccurredAt: at,
	}
}

func createTestVisit(t *testing.T, ctx context.Context, st *Store, viewID string) models.Visit {
	t.Helper()
	visit, err := st.CreateVisit(ctx, store.CreateVisitInput{
		ClientID:     uuid.NewString(),
		ViewID:       viewID,
		PetName:      "Biscuit",
		InitialStage: "check_in",
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return visit
}

func seedView(t *testing.T, ctx context.Context, st *Store) string {
	t.Helper()
	viewID := uuid.NewString()
	err := st.UpsertView(ctx, models.View{
		ViewID:          viewID,
		Slug:            "floor-" + viewID[:8],
		Name:            "Main Floor",
		Type:            models.ViewTypeInternal,
		RefreshInterval: 10,
		ShowGuardian:    true,
	}, nil)
	if err != nil {
		t.Fatalf("upsert view: %v", err)
	}
	stages := []models.StageDefinition{
		{StageKey: "check_in", Label: "Check-In", SortOrder: 1},
		{StageKey: "bath", Label: "Bath", SortOrder: 2},
		{StageKey: "dry", Label: "Dry", SortOrder: 3},
	}
	for _, def := range stages {
		if err := st.UpsertStageDefinition(ctx, def); err != nil {
			t.Fatalf("upsert stage %s: %v", def.StageKey, err)
		}
	}
	return viewID
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	content, err := os.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(content))
	return err
}
