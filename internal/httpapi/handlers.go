package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivlasau/digestd/internal/models"
	"github.com/ivlasau/digestd/internal/repository"
)

const (
	maxSourcesPerDigest = 10
	maxLookbackHours    = 168
	defaultRunsLimit    = 20
	maxRunsLimit        = 100
)

type digestRequest struct {
	Name           string   `json:"name"`
	TargetChatID   string   `json:"target_chat_id"`
	FrequencyHours int      `json:"frequency_hours"`
	Sources        []string `json:"sources"`
	CustomPrompt   *string  `json:"custom_prompt"`
	IsActive       *bool    `json:"is_active"`
}

func (req *digestRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(req.TargetChatID) == "" {
		return errors.New("target_chat_id is required")
	}
	if !models.ValidFrequency(req.FrequencyHours) {
		return fmt.Errorf("frequency_hours must be one of %v", models.AllowedFrequencies)
	}
	if len(req.Sources) == 0 {
		return errors.New("at least one source is required")
	}
	if len(req.Sources) > maxSourcesPerDigest {
		return fmt.Errorf("at most %d sources allowed", maxSourcesPerDigest)
	}
	seen := make(map[string]bool, len(req.Sources))
	for i, src := range req.Sources {
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			return errors.New("source identifiers must not be empty")
		}
		if seen[trimmed] {
			return fmt.Errorf("duplicate source %q", trimmed)
		}
		seen[trimmed] = true
		req.Sources[i] = trimmed
	}
	if req.CustomPrompt != nil && len(*req.CustomPrompt) > models.MaxCustomPromptLen {
		return fmt.Errorf("custom_prompt must be at most %d characters", models.MaxCustomPromptLen)
	}
	return nil
}

type sourceResponse struct {
	Identifier string `json:"identifier"`
}

type digestResponse struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	TargetChatID   string           `json:"target_chat_id"`
	FrequencyHours int              `json:"frequency_hours"`
	IsActive       bool             `json:"is_active"`
	InProgress     bool             `json:"in_progress"`
	LastRunAt      *time.Time       `json:"last_run_at"`
	CustomPrompt   *string          `json:"custom_prompt"`
	Sources        []sourceResponse `json:"sources"`
	CreatedAt      time.Time        `json:"created_at"`
}

func toDigestResponse(d *models.Digest) digestResponse {
	sources := make([]sourceResponse, 0, len(d.Sources))
	for _, src := range d.Sources {
		sources = append(sources, sourceResponse{Identifier: src.SourceIdentifier})
	}
	return digestResponse{
		ID:             d.ID,
		Name:           d.Name,
		TargetChatID:   d.TargetChatID,
		FrequencyHours: d.FrequencyHours,
		IsActive:       d.IsActive,
		InProgress:     d.InProgress,
		LastRunAt:      d.LastRunAt,
		CustomPrompt:   d.CustomPrompt,
		Sources:        sources,
		CreatedAt:      d.CreatedAt,
	}
}

type runLogResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	MessagesCount int        `json:"messages_count"`
	ErrorMessage  *string    `json:"error_message"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digests, err := s.digests.ListForUser(r.Context(), user.ID)
	if err != nil {
		s.logger.Errorw("failed to list digests", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]digestResponse, 0, len(digests))
	for i := range digests {
		out = append(out, toDigestResponse(&digests[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digest, err := s.digests.GetForUser(r.Context(), chi.URLParam(r, "digestID"), user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to get digest", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, toDigestResponse(digest))
}

func (s *Server) handleCreateDigest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req digestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	digest := &models.Digest{
		UserID:         user.ID,
		Name:           strings.TrimSpace(req.Name),
		TargetChatID:   strings.TrimSpace(req.TargetChatID),
		FrequencyHours: req.FrequencyHours,
		IsActive:       isActive,
		CustomPrompt:   req.CustomPrompt,
	}
	for _, ident := range req.Sources {
		digest.Sources = append(digest.Sources, models.DigestSource{SourceIdentifier: ident})
	}

	if err := s.digests.Create(r.Context(), digest); err != nil {
		s.logger.Errorw("failed to create digest", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, toDigestResponse(digest))
}

func (s *Server) handleUpdateDigest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req digestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	digestID := chi.URLParam(r, "digestID")
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	digest := &models.Digest{
		ID:             digestID,
		UserID:         user.ID,
		Name:           strings.TrimSpace(req.Name),
		TargetChatID:   strings.TrimSpace(req.TargetChatID),
		FrequencyHours: req.FrequencyHours,
		IsActive:       isActive,
		CustomPrompt:   req.CustomPrompt,
	}

	if err := s.digests.Update(r.Context(), digest, req.Sources); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to update digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.digests.GetForUser(r.Context(), digestID, user.ID)
	if err != nil {
		s.logger.Errorw("failed to reload digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, toDigestResponse(updated))
}

func (s *Server) handleDeleteDigest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digestID := chi.URLParam(r, "digestID")
	if err := s.digests.Delete(r.Context(), digestID, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to delete digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleDigest(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digestID := chi.URLParam(r, "digestID")
	if err := s.digests.Toggle(r.Context(), digestID, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to toggle digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	digest, err := s.digests.GetForUser(r.Context(), digestID, user.ID)
	if err != nil {
		s.logger.Errorw("failed to reload digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, toDigestResponse(digest))
}

type runNowRequest struct {
	HoursBack int `json:"hours_back"`
}

// handleRunNow triggers a digest run synchronously and returns the run
// outcome in the response. Ownership is checked first, then the digest is
// claimed with the same exclusivity flag the scheduler uses.
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digestID := chi.URLParam(r, "digestID")
	if _, err := s.digests.GetForUser(r.Context(), digestID, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to get digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var req runNowRequest
	if r.Body != nil {
		// An empty body means the default watermark.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.HoursBack < 0 || req.HoursBack > maxLookbackHours {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("hours_back must be between 0 and %d", maxLookbackHours))
		return
	}

	var sinceOverride *time.Time
	if req.HoursBack > 0 {
		since := time.Now().UTC().Add(-time.Duration(req.HoursBack) * time.Hour)
		sinceOverride = &since
	}

	claimed, err := s.digests.TryMarkInProgress(r.Context(), digestID)
	if err != nil {
		s.logger.Errorw("failed to claim digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !claimed {
		respondError(w, http.StatusConflict, "digest is already running")
		return
	}

	result := s.runner.Run(r.Context(), digestID, sinceOverride)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	digestID := chi.URLParam(r, "digestID")
	if _, err := s.digests.GetForUser(r.Context(), digestID, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "digest not found")
			return
		}
		s.logger.Errorw("failed to get digest", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunsLimit {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit))
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListByDigest(r.Context(), digestID, limit)
	if err != nil {
		s.logger.Errorw("failed to list runs", "digest_id", digestID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]runLogResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runLogResponse{
			ID:            run.ID,
			Status:        string(run.Status),
			MessagesCount: run.MessagesCount,
			ErrorMessage:  run.ErrorMessage,
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
