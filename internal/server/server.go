// Package server is the thin HTTP adapter over the marketplace services.
// It resolves the acting party, decodes requests, and maps the error
// taxonomy onto status codes; all business rules live in the services.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/identity"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/marketplace/availability"
	"substitution-marketplace/internal/marketplace/candidacy"
	"substitution-marketplace/internal/marketplace/confirmation"
	"substitution-marketplace/internal/marketplace/posting"
)

type actorKey struct{}

// Server wires the marketplace services into HTTP routes.
type Server struct {
	availability  *availability.Service
	postings      *posting.Service
	candidacies   *candidacy.Service
	confirmations *confirmation.Service
	identity      identity.Resolver
	logger        logger.Logger
}

func New(
	availabilitySvc *availability.Service,
	postingSvc *posting.Service,
	candidacySvc *candidacy.Service,
	confirmationSvc *confirmation.Service,
	resolver identity.Resolver,
	log logger.Logger,
) *Server {
	return &Server{
		availability:  availabilitySvc,
		postings:      postingSvc,
		candidacies:   candidacySvc,
		confirmations: confirmationSvc,
		identity:      resolver,
		logger:        log.WithFields(map[string]interface{}{"component": "http"}),
	}
}

// Routes mounts every marketplace endpoint on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/availability/online", s.withActor(s.handleSetOnline))
	mux.HandleFunc("POST /v1/availability/offline", s.withActor(s.handleSetOffline))
	mux.HandleFunc("GET /v1/availability", s.withActor(s.handleAvailabilityStatus))

	mux.HandleFunc("POST /v1/postings", s.withActor(s.handleCreatePosting))
	mux.HandleFunc("GET /v1/postings", s.withActor(s.handleListPostings))
	mux.HandleFunc("GET /v1/postings/search", s.withActor(s.handleSearchPostings))
	mux.HandleFunc("GET /v1/postings/{id}", s.withActor(s.handleGetPosting))
	mux.HandleFunc("POST /v1/postings/{id}/cancel", s.withActor(s.handleCancelPosting))
	mux.HandleFunc("POST /v1/postings/{id}/reopen", s.withActor(s.handleReopenPosting))
	mux.HandleFunc("POST /v1/postings/{id}/complete", s.withActor(s.handleCompletePosting))

	mux.HandleFunc("POST /v1/postings/{id}/candidacies", s.withActor(s.handleApply))
	mux.HandleFunc("GET /v1/postings/{id}/candidacies", s.withActor(s.handleListCandidacies))
	mux.HandleFunc("POST /v1/postings/{id}/candidacies/{candidacyId}/select", s.withActor(s.handleSelect))

	// The confirmation link carries its own token; no session required.
	mux.HandleFunc("POST /v1/postings/{id}/confirmation", s.handleConfirm)
}

// withActor resolves the bearer token into an acting party before the
// handler runs.
func (s *Server) withActor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, errors.NewForbiddenError("missing access token"))
			return
		}
		actor, err := s.identity.Resolve(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next(w, r.WithContext(ctx))
	}
}

func actorFrom(ctx context.Context) *identity.Actor {
	actor, _ := ctx.Value(actorKey{}).(*identity.Actor)
	return actor
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// ==========================
// Availability
// ==========================

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != identity.RoleProfessional {
		s.writeError(w, errors.NewForbiddenError("only professionals manage availability"))
		return
	}
	if err := s.availability.SetOnline(r.Context(), actor.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"availability": "ONLINE"})
}

func (s *Server) handleSetOffline(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != identity.RoleProfessional {
		s.writeError(w, errors.NewForbiddenError("only professionals manage availability"))
		return
	}
	var body struct {
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body"))
		return
	}
	if err := s.availability.SetOffline(r.Context(), actor.ID, body.Justification); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"availability": "OFFLINE"})
}

func (s *Server) handleAvailabilityStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	status, err := s.availability.Status(r.Context(), actor.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"availability": status})
}

// ==========================
// Postings
// ==========================

func (s *Server) handleCreatePosting(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var input posting.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body"))
		return
	}
	// Ownership comes from the session, never from the payload.
	input.OwnerID = actor.ID
	input.OwnerType = actor.Role

	p, err := s.postings.Create(r.Context(), &input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPostings(w http.ResponseWriter, r *http.Request) {
	postings, err := s.postings.ListOpen(r.Context(), r.URL.Query().Get("specialty"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"postings": postings})
}

func (s *Server) handleSearchPostings(w http.ResponseWriter, r *http.Request) {
	maxYears := 0
	if raw := r.URL.Query().Get("maxYears"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, errors.NewValidationError("maxYears must be a non-negative integer"))
			return
		}
		maxYears = parsed
	}

	postings, err := s.postings.SearchOpen(r.Context(), r.URL.Query().Get("specialty"), maxYears)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"postings": postings})
}

func (s *Server) handleGetPosting(w http.ResponseWriter, r *http.Request) {
	postingID := r.PathValue("id")
	s.postings.RecordView(r.Context(), postingID)

	view, err := s.postings.Get(r.Context(), postingID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelPosting(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if err := s.postings.Cancel(r.Context(), r.PathValue("id"), actor.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "CANCELLED"})
}

func (s *Server) handleReopenPosting(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if err := s.postings.Reopen(r.Context(), r.PathValue("id"), actor.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "OPEN"})
}

func (s *Server) handleCompletePosting(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var report posting.CompletionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body"))
		return
	}
	if err := s.postings.Complete(r.Context(), r.PathValue("id"), actor.ID, report); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "COMPLETED"})
}

// ==========================
// Candidacies
// ==========================

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != identity.RoleProfessional {
		s.writeError(w, errors.NewForbiddenError("only professionals may apply"))
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if r.Body != nil {
		// The message is optional; an empty body is a valid application.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	c, err := s.candidacies.Apply(r.Context(), r.PathValue("id"), actor.ID, body.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCandidacies(w http.ResponseWriter, r *http.Request) {
	candidacies, err := s.candidacies.ListForPosting(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"candidacies": candidacies})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	err := s.candidacies.Select(r.Context(), r.PathValue("id"), r.PathValue("candidacyId"), actor.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "AWAITING_CLINIC_CONFIRMATION"})
}

// ==========================
// Confirmation
// ==========================

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token   string `json:"token"`
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.NewValidationError("invalid request body"))
		return
	}
	if err := s.confirmations.Confirm(r.Context(), r.PathValue("id"), body.Token, body.Outcome); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"outcome": body.Outcome})
}

// ==========================
// Response Helpers
// ==========================

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(errors.CodeOf(err))

	var stdErr *errors.StandardError
	if !stderrors.As(err, &stdErr) {
		stdErr = errors.NewStorageError("internal", err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"code":  string(stdErr.Code),
			"error": err.Error(),
		})
	}

	s.writeJSON(w, status, map[string]interface{}{"error": stdErr})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeForbidden, errors.ErrCodeInvalidToken:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeNotEligible:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeDuplicateCandidacy, errors.ErrCodePostingClosed, errors.ErrCodeInvalidState:
		return http.StatusConflict
	case errors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
