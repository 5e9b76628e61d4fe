package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
)

type CreateVisitInput struct {
	ClientID      string
	GuardianID    string
	ViewID        string
	PetName       string
	InitialStage  string
	Instructions  string
	PrivateNotes  string
	PublicNotes   string
	AssignedStaff string
	GuardianName  string
	GuardianPhone string
	GuardianEmail string
	Flags         []models.Flag
	CheckInAt     time.Time
}

// UpdateVisitInput carries non-stage edits; nil pointers leave the column
// untouched. When Actor is set the store also appends an audit ledger entry
// and an outbox event in the same transaction.
type UpdateVisitInput struct {
	VisitID       string
	ViewID        *string
	PetName       *string
	Instructions  *string
	PrivateNotes  *string
	PublicNotes   *string
	AssignedStaff *string
	GuardianName  *string
	GuardianPhone *string
	GuardianEmail *string
	Flags         []models.Flag
	Actor         string
	Comment       string
	OccurredAt    time.Time
}

// CommitTransitionInput applies one stage transition atomically: a
// compare-and-swap visit update, a ledger append, and an outbox insert run in
// a single transaction. Version is the caller's snapshot version; a mismatch
// returns ErrVersionConflict.
type CommitTransitionInput struct {
	VisitID             string
	Version             int64
	CurrentStage        string
	Status              string
	CheckOutAt          *time.Time
	TimerStartedAt      *time.Time
	TimerElapsedSeconds int64
	Entry               HistoryInput
	EventType           string
	OccurredAt          time.Time
}

type HistoryInput struct {
	FromStage      string
	ToStage        string
	Comment        string
	ChangedBy      string
	ElapsedSeconds int64
}

// ActiveVisitQuery selects active visits for one view; StageKeys and
// ModifiedAfter are optional narrowing filters.
type ActiveVisitQuery struct {
	ViewID        string
	StageKeys     []string
	ModifiedAfter time.Time
}

type AttachPhotoInput struct {
	VisitID         string
	AttachmentID    string
	GuardianVisible bool
	Primary         bool
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Store interface {
	CreateVisit(ctx context.Context, input CreateVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, error)
	TouchVisit(ctx context.Context, visitID string, at time.Time) (models.Visit, error)
	UpdateVisit(ctx context.Context, input UpdateVisitInput) (models.Visit, error)
	CommitTransition(ctx context.Context, input CommitTransitionInput) (models.Visit, error)

	HistoricalStageSeconds(ctx context.Context, visitID, stageKey string) (int64, error)
	ListStageHistory(ctx context.Context, visitID string, limit int) ([]models.StageHistoryEntry, error)

	ListActiveVisits(ctx context.Context, query ActiveVisitQuery) ([]models.Visit, error)
	LatestActivity(ctx context.Context, query ActiveVisitQuery) (time.Time, error)

	ListStageDefinitions(ctx context.Context) ([]models.StageDefinition, error)
	UpsertStageDefinition(ctx context.Context, def models.StageDefinition) error
	GetView(ctx context.Context, idOrSlug string) (models.View, error)
	ListViews(ctx context.Context) ([]models.View, error)
	ListViewStages(ctx context.Context, viewID string) ([]models.ViewStage, error)
	UpsertView(ctx context.Context, view models.View, stages []models.ViewStage) error

	AttachPhoto(ctx context.Context, input AttachPhotoInput) (models.VisitPhoto, error)
	SetPhotoVisibility(ctx context.Context, visitID, attachmentID string, visible bool) error
	SetPrimaryPhoto(ctx context.Context, visitID, attachmentID string) error
	ListVisitPhotos(ctx context.Context, visitID string) ([]models.VisitPhoto, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}
