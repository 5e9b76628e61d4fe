// Package postgres implements the store against PostgreSQL via pgx. Stage
// transitions are committed in a single transaction: a compare-and-swap visit
// update, a ledger append, and an outbox insert either all land or none do.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

const visitColumns = `
	visit_id, client_id, guardian_id, view_id, pet_name, current_stage, status,
	check_in_at, check_out_at, timer_started_at, timer_elapsed_seconds,
	instructions, private_notes, public_notes, assigned_staff,
	guardian_name, guardian_phone, guardian_email, flags_json,
	version, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (models.Visit, error) {
	var visit models.Visit
	var guardianIDNull sql.NullString
	var viewIDNull sql.NullString
	var checkInNull sql.NullTime
	var checkOutNull sql.NullTime
	var timerStartedNull sql.NullTime
	var flagsRaw []byte
	err := row.Scan(
		&visit.VisitID, &visit.ClientID, &guardianIDNull, &viewIDNull,
		&visit.PetName, &visit.CurrentStage, &visit.Status,
		&checkInNull, &checkOutNull, &timerStartedNull, &visit.TimerElapsedSeconds,
		&visit.Instructions, &visit.PrivateNotes, &visit.PublicNotes, &visit.AssignedStaff,
		&visit.GuardianName, &visit.GuardianPhone, &visit.GuardianEmail, &flagsRaw,
		&visit.Version, &visit.CreatedAt, &visit.UpdatedAt,
	)
	if err != nil {
		return models.Visit{}, err
	}
	if guardianIDNull.Valid {
		visit.GuardianID = guardianIDNull.String
	}
	if viewIDNull.Valid {
		visit.ViewID = viewIDNull.String
	}
	visit.CheckInAt = nullTimePtr(checkInNull)
	visit.CheckOutAt = nullTimePtr(checkOutNull)
	visit.TimerStartedAt = nullTimePtr(timerStartedNull)
	visit.Flags = parseFlags(flagsRaw)
	return visit, nil
}

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	checkInAt := input.CheckInAt
	if checkInAt.IsZero() {
		checkInAt = time.Now().UTC()
	}
	flagsRaw, err := flagsJSON(input.Flags)
	if err != nil {
		return models.Visit{}, err
	}

	visitID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO visits (
			visit_id, client_id, guardian_id, view_id, pet_name, current_stage, status,
			check_in_at, timer_started_at, timer_elapsed_seconds,
			instructions, private_notes, public_notes, assigned_staff,
			guardian_name, guardian_phone, guardian_email, flags_json,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12,$13,$14,$15,$16,$17,1,$18,$18)
		RETURNING `+visitColumns+`
	`, visitID, input.ClientID, nullIfEmpty(input.GuardianID), input.ViewID,
		input.PetName, input.InitialStage, models.StatusInProgress,
		checkInAt, checkInAt,
		input.Instructions, input.PrivateNotes, input.PublicNotes, input.AssignedStaff,
		input.GuardianName, input.GuardianPhone, input.GuardianEmail, flagsRaw,
		checkInAt)

	visit, err := scanVisit(row)
	if err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "visit.created", visitPayload(visit), checkInAt); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE visit_id = $1
	`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) TouchVisit(ctx context.Context, visitID string, at time.Time) (models.Visit, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE visits
		SET updated_at = $2
		WHERE visit_id = $1
		RETURNING `+visitColumns+`
	`, visitID, at)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) UpdateVisit(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := "UPDATE visits SET version = version + 1, updated_at = $1"
	args := []interface{}{occurredAt}
	addSet := func(column string, value interface{}) {
		args = append(args, value)
		query += ", " + column + " = $" + strconv.Itoa(len(args))
	}
	if input.ViewID != nil {
		addSet("view_id", *input.ViewID)
	}
	if input.PetName != nil {
		addSet("pet_name", *input.PetName)
	}
	if input.Instructions != nil {
		addSet("instructions", *input.Instructions)
	}
	if input.PrivateNotes != nil {
		addSet("private_notes", *input.PrivateNotes)
	}
	if input.PublicNotes != nil {
		addSet("public_notes", *input.PublicNotes)
	}
	if input.AssignedStaff != nil {
		addSet("assigned_staff", *input.AssignedStaff)
	}
	if input.GuardianName != nil {
		addSet("guardian_name", *input.GuardianName)
	}
	if input.GuardianPhone != nil {
		addSet("guardian_phone", *input.GuardianPhone)
	}
	if input.GuardianEmail != nil {
		addSet("guardian_email", *input.GuardianEmail)
	}
	if input.Flags != nil {
		flagsRaw, ferr := flagsJSON(input.Flags)
		if ferr != nil {
			err = ferr
			return models.Visit{}, err
		}
		addSet("flags_json", flagsRaw)
	}
	args = append(args, input.VisitID)
	query += " WHERE visit_id = $" + strconv.Itoa(len(args)) + " RETURNING " + visitColumns

	row := tx.QueryRow(ctx, query, args...)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}

	if input.Actor != "" {
		if err = insertHistoryEntry(ctx, tx, visit.VisitID, store.HistoryInput{
			FromStage: visit.CurrentStage,
			ToStage:   models.StageUpdated,
			Comment:   input.Comment,
			ChangedBy: input.Actor,
		}, occurredAt); err != nil {
			return models.Visit{}, err
		}
		if err = insertOutboxEvent(ctx, tx, "visit.updated", visitPayload(visit), occurredAt); err != nil {
			return models.Visit{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) CommitTransition(ctx context.Context, input store.CommitTransitionInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE visits
		SET current_stage = $3,
			status = $4,
			check_out_at = $5,
			timer_started_at = $6,
			timer_elapsed_seconds = $7,
			version = version + 1,
			updated_at = $8
		WHERE visit_id = $1 AND version = $2
		RETURNING `+visitColumns+`
	`, input.VisitID, input.Version, input.CurrentStage, input.Status,
		nullIfZero(input.CheckOutAt), nullIfZero(input.TimerStartedAt),
		input.TimerElapsedSeconds, input.OccurredAt)

	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if scanErr := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM visits WHERE visit_id = $1)
			`, input.VisitID).Scan(&exists); scanErr != nil {
				err = scanErr
				return models.Visit{}, err
			}
			if exists {
				err = store.ErrVersionConflict
			} else {
				err = store.ErrVisitNotFound
			}
		}
		return models.Visit{}, err
	}

	if err = insertHistoryEntry(ctx, tx, visit.VisitID, input.Entry, input.OccurredAt); err != nil {
		return models.Visit{}, err
	}

	payload := visitPayload(visit)
	payload["from_stage"] = input.Entry.FromStage
	payload["to_stage"] = input.Entry.ToStage
	payload["elapsed_seconds"] = input.Entry.ElapsedSeconds
	if err = insertOutboxEvent(ctx, tx, input.EventType, payload, input.OccurredAt); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) HistoricalStageSeconds(ctx context.Context, visitID, stageKey string) (int64, error) {
	var total int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(elapsed_seconds), 0)
		FROM stage_history
		WHERE visit_id = $1 AND from_stage = $2
	`, visitID, stageKey)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListStageHistory(ctx context.Context, visitID string, limit int) ([]models.StageHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, visit_id, from_stage, to_stage, comment, changed_by, changed_at, elapsed_seconds
		FROM stage_history
		WHERE visit_id = $1
		ORDER BY changed_at DESC, entry_id DESC
		LIMIT $2
	`, visitID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.StageHistoryEntry
	for rows.Next() {
		var entry models.StageHistoryEntry
		if err := rows.Scan(&entry.EntryID, &entry.VisitID, &entry.FromStage, &entry.ToStage, &entry.Comment, &entry.ChangedBy, &entry.ChangedAt, &entry.ElapsedSeconds); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListActiveVisits(ctx context.Context, query store.ActiveVisitQuery) ([]models.Visit, error) {
	sqlQuery := `
		SELECT ` + visitColumns + `
		FROM visits
		WHERE view_id = $1 AND check_out_at IS NULL AND status <> 'completed'
	`
	args := []interface{}{query.ViewID}
	if len(query.StageKeys) > 0 {
		args = append(args, query.StageKeys)
		sqlQuery += " AND current_stage = ANY($" + strconv.Itoa(len(args)) + ")"
	}
	if !query.ModifiedAfter.IsZero() {
		args = append(args, query.ModifiedAfter)
		sqlQuery += " AND updated_at >= $" + strconv.Itoa(len(args))
	}
	sqlQuery += " ORDER BY COALESCE(check_in_at, created_at) ASC"

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func (s *Store) LatestActivity(ctx context.Context, query store.ActiveVisitQuery) (time.Time, error) {
	sqlQuery := `
		SELECT MAX(updated_at)
		FROM visits
		WHERE view_id = $1 AND check_out_at IS NULL AND status <> 'completed'
	`
	args := []interface{}{query.ViewID}
	if len(query.StageKeys) > 0 {
		args = append(args, query.StageKeys)
		sqlQuery += " AND current_stage = ANY($" + strconv.Itoa(len(args)) + ")"
	}

	var latest sql.NullTime
	if err := s.pool.QueryRow(ctx, sqlQuery, args...).Scan(&latest); err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}

func (s *Store) ListStageDefinitions(ctx context.Context) ([]models.StageDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage_key, label, capacity_soft_limit, capacity_hard_limit,
			timer_threshold_green, timer_threshold_yellow, timer_threshold_red, sort_order
		FROM stage_definitions
		ORDER BY sort_order ASC, stage_key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []models.StageDefinition
	for rows.Next() {
		var def models.StageDefinition
		if err := rows.Scan(&def.StageKey, &def.Label, &def.CapacitySoftLimit, &def.CapacityHardLimit,
			&def.TimerThresholdGreen, &def.TimerThresholdYellow, &def.TimerThresholdRed, &def.SortOrder); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

func (s *Store) UpsertStageDefinition(ctx context.Context, def models.StageDefinition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_definitions (
			stage_key, label, capacity_soft_limit, capacity_hard_limit,
			timer_threshold_green, timer_threshold_yellow, timer_threshold_red, sort_order
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (stage_key) DO UPDATE SET
			label = EXCLUDED.label,
			capacity_soft_limit = EXCLUDED.capacity_soft_limit,
			capacity_hard_limit = EXCLUDED.capacity_hard_limit,
			timer_threshold_green = EXCLUDED.timer_threshold_green,
			timer_threshold_yellow = EXCLUDED.timer_threshold_yellow,
			timer_threshold_red = EXCLUDED.timer_threshold_red,
			sort_order = EXCLUDED.sort_order
	`, def.StageKey, def.Label, def.CapacitySoftLimit, def.CapacityHardLimit,
		def.TimerThresholdGreen, def.TimerThresholdYellow, def.TimerThresholdRed, def.SortOrder)
	return err
}

const viewColumns = `view_id, slug, name, type, allow_switcher, refresh_interval, show_guardian, COALESCE(public_token_hash, '')`

func scanView(row rowScanner) (models.View, error) {
	var view models.View
	err := row.Scan(&view.ViewID, &view.Slug, &view.Name, &view.Type,
		&view.AllowSwitcher, &view.RefreshInterval, &view.ShowGuardian, &view.PublicTokenHash)
	if err != nil {
		return models.View{}, err
	}
	return view, nil
}

func (s *Store) GetView(ctx context.Context, idOrSlug string) (models.View, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+viewColumns+`
		FROM views
		WHERE view_id = $1 OR slug = $1
	`, idOrSlug)
	view, err := scanView(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.View{}, store.ErrViewNotFound
		}
		return models.View{}, err
	}
	return view, nil
}

func (s *Store) ListViews(ctx context.Context) ([]models.View, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+viewColumns+`
		FROM views
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []models.View
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Store) ListViewStages(ctx context.Context, viewID string) ([]models.ViewStage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT view_id, stage_key, label, capacity_soft_limit, capacity_hard_limit,
			timer_threshold_green, timer_threshold_yellow, timer_threshold_red, position
		FROM view_stages
		WHERE view_id = $1
		ORDER BY position ASC
	`, viewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []models.ViewStage
	for rows.Next() {
		var stage models.ViewStage
		if err := rows.Scan(&stage.ViewID, &stage.StageKey, &stage.Label,
			&stage.CapacitySoftLimit, &stage.CapacityHardLimit,
			&stage.TimerThresholdGreen, &stage.TimerThresholdYellow, &stage.TimerThresholdRed,
			&stage.Position); err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stages, nil
}

func (s *Store) UpsertView(ctx context.Context, view models.View, stages []models.ViewStage) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO views (view_id, slug, name, type, allow_switcher, refresh_interval, show_guardian, public_token_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (view_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			allow_switcher = EXCLUDED.allow_switcher,
			refresh_interval = EXCLUDED.refresh_interval,
			show_guardian = EXCLUDED.show_guardian,
			public_token_hash = EXCLUDED.public_token_hash
	`, view.ViewID, view.Slug, view.Name, view.Type,
		view.AllowSwitcher, view.RefreshInterval, view.ShowGuardian, nullIfEmpty(view.PublicTokenHash))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `DELETE FROM view_stages WHERE view_id = $1`, view.ViewID)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		_, err = tx.Exec(ctx, `
			INSERT INTO view_stages (
				view_id, stage_key, label, capacity_soft_limit, capacity_hard_limit,
				timer_threshold_green, timer_threshold_yellow, timer_threshold_red, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, view.ViewID, stage.StageKey, stage.Label,
			stage.CapacitySoftLimit, stage.CapacityHardLimit,
			stage.TimerThresholdGreen, stage.TimerThresholdYellow, stage.TimerThresholdRed,
			stage.Position)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) AttachPhoto(ctx context.Context, input store.AttachPhotoInput) (models.VisitPhoto, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.VisitPhoto{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var clientID string
	if err = tx.QueryRow(ctx, `
		SELECT client_id FROM visits WHERE visit_id = $1
	`, input.VisitID).Scan(&clientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.VisitPhoto{}, err
	}

	var photo models.VisitPhoto
	row := tx.QueryRow(ctx, `
		INSERT INTO visit_photos (attachment_id, visit_id, guardian_visible, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (attachment_id) DO NOTHING
		RETURNING attachment_id, visit_id, guardian_visible, is_primary, created_at
	`, input.AttachmentID, input.VisitID, input.GuardianVisible, input.Primary, time.Now().UTC())
	if err = row.Scan(&photo.AttachmentID, &photo.VisitID, &photo.GuardianVisible, &photo.Primary, &photo.CreatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.VisitPhoto{}, err
		}
		// Re-attaching to the same visit is idempotent; a link to another
		// visit is a conflict.
		err = tx.QueryRow(ctx, `
			SELECT attachment_id, visit_id, guardian_visible, is_primary, created_at
			FROM visit_photos
			WHERE attachment_id = $1
		`, input.AttachmentID).Scan(&photo.AttachmentID, &photo.VisitID, &photo.GuardianVisible, &photo.Primary, &photo.CreatedAt)
		if err != nil {
			return models.VisitPhoto{}, err
		}
		if photo.VisitID != input.VisitID {
			err = store.ErrPhotoAlreadyLinked
			return models.VisitPhoto{}, err
		}
	}

	if input.Primary {
		if err = promotePrimaryPhoto(ctx, tx, input.VisitID, input.AttachmentID, clientID); err != nil {
			return models.VisitPhoto{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.VisitPhoto{}, err
	}
	return photo, nil
}

func (s *Store) SetPhotoVisibility(ctx context.Context, visitID, attachmentID string, visible bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE visit_photos
		SET guardian_visible = $3
		WHERE visit_id = $1 AND attachment_id = $2
	`, visitID, attachmentID, visible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrPhotoNotFound
	}
	return nil
}

func (s *Store) SetPrimaryPhoto(ctx context.Context, visitID, attachmentID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var clientID string
	if err = tx.QueryRow(ctx, `
		SELECT client_id FROM visits WHERE visit_id = $1
	`, visitID).Scan(&clientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return err
	}

	if err = promotePrimaryPhoto(ctx, tx, visitID, attachmentID, clientID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func promotePrimaryPhoto(ctx context.Context, tx pgx.Tx, visitID, attachmentID, clientID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE visit_photos
		SET is_primary = (attachment_id = $2)
		WHERE visit_id = $1
	`, visitID, attachmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrPhotoNotFound
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM visit_photos WHERE visit_id = $1 AND attachment_id = $2)
	`, visitID, attachmentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrPhotoNotFound
	}

	// The client's profile photo follows the latest primary visit photo.
	_, err = tx.Exec(ctx, `
		INSERT INTO client_photos (client_id, attachment_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE SET
			attachment_id = EXCLUDED.attachment_id,
			updated_at = EXCLUDED.updated_at
	`, clientID, attachmentID, time.Now().UTC())
	return err
}

func (s *Store) ListVisitPhotos(ctx context.Context, visitID string) ([]models.VisitPhoto, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT attachment_id, visit_id, guardian_visible, is_primary, created_at
		FROM visit_photos
		WHERE visit_id = $1
		ORDER BY created_at ASC
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []models.VisitPhoto
	for rows.Next() {
		var photo models.VisitPhoto
		if err := rows.Scan(&photo.AttachmentID, &photo.VisitID, &photo.GuardianVisible, &photo.Primary, &photo.CreatedAt); err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return photos, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		args = append(args, after)
		query += " WHERE created_at > $1"
	}
	args = append(args, limit)
	query += " ORDER BY created_at ASC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func insertHistoryEntry(ctx context.Context, tx pgx.Tx, visitID string, entry store.HistoryInput, changedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO stage_history (entry_id, visit_id, from_stage, to_stage, comment, changed_by, changed_at, elapsed_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, uuid.NewString(), visitID, entry.FromStage, entry.ToStage, entry.Comment, entry.ChangedBy, changedAt, entry.ElapsedSeconds)
	return err
}

func visitPayload(visit models.Visit) map[string]interface{} {
	return map[string]interface{}{
		"visit_id":      visit.VisitID,
		"client_id":     visit.ClientID,
		"view_id":       visit.ViewID,
		"pet_name":      visit.PetName,
		"current_stage": visit.CurrentStage,
		"status":        visit.Status,
		"check_in_at":   visit.CheckInAt,
		"check_out_at":  visit.CheckOutAt,
		"version":       visit.Version,
	}
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload map[string]interface{}, createdAt time.Time) error {
	payloadJSON, err := jsonBytes(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, createdAt)
	return err
}
