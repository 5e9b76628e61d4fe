package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/engine"
	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
	"github.com/ocdataUS/GroomFlow-sub000/internal/store"
)

// Service is the surface the handler needs from the engine.
type Service interface {
	GetBoard(ctx context.Context, req engine.BoardRequest) (models.BoardPayload, error)
	Create(ctx context.Context, input store.CreateVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, visitID string, at time.Time) (engine.VisitDetail, error)
	Update(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error)
	Move(ctx context.Context, input engine.MoveInput) (models.Visit, error)
	Checkout(ctx context.Context, input engine.CheckoutInput) (models.Visit, error)
	History(ctx context.Context, visitID string, limit int) ([]models.StageHistoryEntry, error)
	AttachPhoto(ctx context.Context, input store.AttachPhotoInput) (models.VisitPhoto, error)
	SetPhotoVisibility(ctx context.Context, visitID, attachmentID string, visible bool) error
	SetPrimaryPhoto(ctx context.Context, visitID, attachmentID string) error
	Views(ctx context.Context) ([]models.View, error)
	View(ctx context.Context, idOrSlug string) (models.View, error)
	UpsertView(ctx context.Context, view models.View, stages []models.ViewStage) error
	Stages(ctx context.Context) ([]models.StageDefinition, error)
	UpsertStage(ctx context.Context, def models.StageDefinition) error
	FlushCache(ctx context.Context, viewRef string) error
	Events(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/board", h.handleBoard)
	mux.HandleFunc("/api/visits", h.handleVisits)
	mux.HandleFunc("/api/visits/", h.handleVisitSubtree)
	mux.HandleFunc("/api/views", h.handleViews)
	mux.HandleFunc("/api/stages", h.handleStages)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/cache/flush", h.handleCacheFlush)
	return mux
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	viewRef := strings.TrimSpace(r.URL.Query().Get("view"))
	if viewRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "view is required")
		return
	}

	view, err := h.service.View(r.Context(), viewRef)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	isPublic := view.Type != models.ViewTypeInternal
	if isPublic {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if !tokenMatches(token, view.PublicTokenHash) {
			writeError(w, http.StatusForbidden, "access_denied", "invalid board token")
			return
		}
	}

	req := engine.BoardRequest{
		ViewRef:  viewRef,
		IsPublic: isPublic,
		ReadOnly: isPublic || r.URL.Query().Get("readonly") == "true",
	}
	if isPublic {
		req.MaskSensitive = true
		req.MaskGuardian = !view.ShowGuardian
	} else {
		req.MaskGuardian = r.URL.Query().Get("mask_guardian") == "true"
		req.MaskSensitive = r.URL.Query().Get("mask_sensitive") == "true"
	}

	if stagesRaw := strings.TrimSpace(r.URL.Query().Get("stages")); stagesRaw != "" {
		for _, key := range strings.Split(stagesRaw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				req.StageKeys = append(req.StageKeys, key)
			}
		}
	}
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("modified_after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "modified_after must be an RFC3339 timestamp")
			return
		}
		req.ModifiedAfter = parsed
	}

	payload, err := h.service.GetBoard(r.Context(), req)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type createVisitRequest struct {
	ClientID      string        `json:"client_id"`
	GuardianID    string        `json:"guardian_id"`
	ViewID        string        `json:"view_id"`
	PetName       string        `json:"pet_name"`
	InitialStage  string        `json:"initial_stage"`
	Instructions  string        `json:"instructions"`
	PrivateNotes  string        `json:"private_notes"`
	PublicNotes   string        `json:"public_notes"`
	AssignedStaff string        `json:"assigned_staff"`
	GuardianName  string        `json:"guardian_name"`
	GuardianPhone string        `json:"guardian_phone"`
	GuardianEmail string        `json:"guardian_email"`
	Flags         []models.Flag `json:"flags"`
}

func (h *Handler) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createVisitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ViewID = strings.TrimSpace(req.ViewID)
	req.PetName = strings.TrimSpace(req.PetName)
	req.InitialStage = strings.TrimSpace(req.InitialStage)

	if req.ClientID == "" || req.ViewID == "" || req.PetName == "" || req.InitialStage == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "client_id, view_id, pet_name, and initial_stage are required")
		return
	}

	visit, err := h.service.Create(r.Context(), store.CreateVisitInput{
		ClientID:      req.ClientID,
		GuardianID:    strings.TrimSpace(req.GuardianID),
		ViewID:        req.ViewID,
		PetName:       req.PetName,
		InitialStage:  req.InitialStage,
		Instructions:  req.Instructions,
		PrivateNotes:  req.PrivateNotes,
		PublicNotes:   req.PublicNotes,
		AssignedStaff: strings.TrimSpace(req.AssignedStaff),
		GuardianName:  strings.TrimSpace(req.GuardianName),
		GuardianPhone: strings.TrimSpace(req.GuardianPhone),
		GuardianEmail: strings.TrimSpace(req.GuardianEmail),
		Flags:         req.Flags,
		CheckInAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) handleVisitSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/visits/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	visitID := parts[0]

	switch {
	case len(parts) == 1:
		h.handleVisit(w, r, visitID)
	case len(parts) == 2 && parts[1] == "history":
		h.handleHistory(w, r, visitID)
	case len(parts) == 2 && parts[1] == "photos":
		h.handlePhotos(w, r, visitID)
	case len(parts) == 3 && parts[1] == "photos":
		h.handlePhoto(w, r, visitID, parts[2])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleVisitAction(w, r, visitID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleVisit(w http.ResponseWriter, r *http.Request, visitID string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := h.service.GetVisit(r.Context(), visitID, time.Now().UTC())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPatch:
		h.handleUpdateVisit(w, r, visitID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type updateVisitRequest struct {
	ViewID        *string       `json:"view_id"`
	PetName       *string       `json:"pet_name"`
	Instructions  *string       `json:"instructions"`
	PrivateNotes  *string       `json:"private_notes"`
	PublicNotes   *string       `json:"public_notes"`
	AssignedStaff *string       `json:"assigned_staff"`
	GuardianName  *string       `json:"guardian_name"`
	GuardianPhone *string       `json:"guardian_phone"`
	GuardianEmail *string       `json:"guardian_email"`
	Flags         []models.Flag `json:"flags"`
	Actor         string        `json:"actor"`
	Comment       string        `json:"comment"`
}

func (h *Handler) handleUpdateVisit(w http.ResponseWriter, r *http.Request, visitID string) {
	var req updateVisitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	visit, err := h.service.Update(r.Context(), store.UpdateVisitInput{
		VisitID:       visitID,
		ViewID:        req.ViewID,
		PetName:       req.PetName,
		Instructions:  req.Instructions,
		PrivateNotes:  req.PrivateNotes,
		PublicNotes:   req.PublicNotes,
		AssignedStaff: req.AssignedStaff,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		GuardianEmail: req.GuardianEmail,
		Flags:         req.Flags,
		Actor:         strings.TrimSpace(req.Actor),
		Comment:       strings.TrimSpace(req.Comment),
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

type visitActionRequest struct {
	ToStage string `json:"to_stage,omitempty"`
	Comment string `json:"comment"`
	Actor   string `json:"actor"`
}

func (h *Handler) handleVisitAction(w http.ResponseWriter, r *http.Request, visitID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req visitActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.ToStage = strings.TrimSpace(req.ToStage)
	req.Comment = strings.TrimSpace(req.Comment)
	req.Actor = strings.TrimSpace(req.Actor)

	switch action {
	case "move":
		if req.ToStage == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "to_stage is required")
			return
		}
		visit, err := h.service.Move(r.Context(), engine.MoveInput{
			VisitID:    visitID,
			ToStage:    req.ToStage,
			Comment:    req.Comment,
			Actor:      req.Actor,
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, visit)
	case "checkout":
		visit, err := h.service.Checkout(r.Context(), engine.CheckoutInput{
			VisitID:    visitID,
			Comment:    req.Comment,
			Actor:      req.Actor,
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, visit)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, visitID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.History(r.Context(), visitID, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type attachPhotoRequest struct {
	AttachmentID    string `json:"attachment_id"`
	GuardianVisible bool   `json:"guardian_visible"`
	Primary         bool   `json:"primary"`
}

func (h *Handler) handlePhotos(w http.ResponseWriter, r *http.Request, visitID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req attachPhotoRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.AttachmentID = strings.TrimSpace(req.AttachmentID)
	if req.AttachmentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "attachment_id is required")
		return
	}

	photo, err := h.service.AttachPhoto(r.Context(), store.AttachPhotoInput{
		VisitID:         visitID,
		AttachmentID:    req.AttachmentID,
		GuardianVisible: req.GuardianVisible,
		Primary:         req.Primary,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

type updatePhotoRequest struct {
	GuardianVisible *bool `json:"guardian_visible"`
	Primary         *bool `json:"primary"`
}

func (h *Handler) handlePhoto(w http.ResponseWriter, r *http.Request, visitID, attachmentID string) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req updatePhotoRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.GuardianVisible == nil && req.Primary == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "guardian_visible or primary is required")
		return
	}

	if req.GuardianVisible != nil {
		if err := h.service.SetPhotoVisibility(r.Context(), visitID, attachmentID, *req.GuardianVisible); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
	}
	if req.Primary != nil && *req.Primary {
		if err := h.service.SetPrimaryPhoto(r.Context(), visitID, attachmentID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertViewRequest struct {
	View   models.View        `json:"view"`
	Stages []models.ViewStage `json:"stages"`
	Token  string             `json:"token"`
}

func (h *Handler) handleViews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		views, err := h.service.Views(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPut:
		var req upsertViewRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.View.ViewID = strings.TrimSpace(req.View.ViewID)
		req.View.Slug = strings.TrimSpace(req.View.Slug)
		if req.View.ViewID == "" || req.View.Slug == "" || strings.TrimSpace(req.View.Name) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "view_id, slug, and name are required")
			return
		}
		switch req.View.Type {
		case models.ViewTypeInternal, models.ViewTypeLobby, models.ViewTypeKiosk:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "type must be internal, lobby, or kiosk")
			return
		}
		if req.Token != "" {
			req.View.PublicTokenHash = hashToken(req.Token)
		}
		if err := h.service.UpsertView(r.Context(), req.View, req.Stages); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleStages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stages, err := h.service.Stages(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, stages)
	case http.MethodPut:
		var def models.StageDefinition
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&def); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		def.StageKey = strings.TrimSpace(def.StageKey)
		if def.StageKey == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "stage_key is required")
			return
		}
		if err := h.service.UpsertStage(r.Context(), def); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after time.Time
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be an RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.service.Events(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		View string `json:"view"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if err := h.service.FlushCache(r.Context(), strings.TrimSpace(req.View)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(token, wantHash string) bool {
	if token == "" || wantHash == "" {
		return false
	}
	got := hashToken(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHash)) == 1
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", "visit not found"
	case errors.Is(err, store.ErrViewNotFound):
		return http.StatusNotFound, "view_not_found", "view not found"
	case errors.Is(err, store.ErrStageNotFound):
		return http.StatusNotFound, "stage_not_found", "stage not found"
	case errors.Is(err, store.ErrPhotoNotFound):
		return http.StatusNotFound, "photo_not_found", "photo not found"
	case errors.Is(err, store.ErrUnknownStage):
		return http.StatusUnprocessableEntity, "unknown_stage", "stage is not in the library"
	case errors.Is(err, store.ErrAlreadyCheckedOut):
		return http.StatusConflict, "already_checked_out", "visit is already checked out"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "version_conflict", "visit was modified concurrently, retry"
	case errors.Is(err, store.ErrPhotoAlreadyLinked):
		return http.StatusConflict, "photo_already_linked", "attachment is already linked to a visit"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
