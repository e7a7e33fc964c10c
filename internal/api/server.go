package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opsboard/internal/attachments"
	"opsboard/internal/cache"
	"opsboard/internal/config"
	"opsboard/internal/lifecycle"
	"opsboard/internal/models"
	"opsboard/internal/ratelimit"
	"opsboard/internal/store"
	"opsboard/internal/telemetry"
)

// Server wires HTTP handlers for the board API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	cache   *cache.ResponseCache
	limiter *ratelimit.TokenBucket
	files   *attachments.Store
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, c *cache.ResponseCache, limiter *ratelimit.TokenBucket, files *attachments.Store) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		cache:   c,
		limiter: limiter,
		files:   files,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/workitems", s.handleListWorkItems)
	r.Get("/workitems/{id}", s.handleGetWorkItem)
	r.Get("/workitems/{id}/audit", s.handleListAudit)
	r.Get("/workitems/{id}/comments", s.handleListComments)
	r.Get("/workitems/{id}/messages", s.handleListMessages)
	r.Get("/workitems/{id}/qc-checks", s.handleListQCChecks)
	r.Get("/workitems/{id}/attachments", s.handleListAttachments)
	r.Get("/templates", s.handleListTemplates)
	r.Get("/templates/{type}", s.handleGetTemplate)
	r.Get("/stats", s.handleStats)

	// Mutating routes need an identity and pass through the rate limiter.
	r.Group(func(r chi.Router) {
		r.Use(s.requireUser, s.rateLimited)

		r.Post("/workitems", s.handleCreateWorkItem)
		r.Patch("/workitems/{id}", s.handleUpdateWorkItem)
		r.Delete("/workitems/{id}", s.handleDeleteWorkItem)

		r.Post("/workitems/{id}/subtasks", s.handleCreateSubtask)
		r.Patch("/subtasks/{id}", s.handleUpdateSubtask)
		r.Delete("/subtasks/{id}", s.handleDeleteSubtask)

		r.Post("/workitems/{id}/comments", s.handleCreateComment)
		r.Post("/workitems/{id}/messages", s.handleCreateMessage)

		r.Post("/workitems/{id}/qc-checks", s.handleCreateQCCheck)
		r.Patch("/qc-checks/{id}", s.handleResolveQCCheck)

		r.Put("/templates/{type}", s.handleUpsertTemplate)

		r.Post("/workitems/{id}/attachments", s.handleUploadAttachment)
	})

	return r
}

type ctxKey int

const userKey ctxKey = 0

// requireUser rejects mutating requests without an X-User-ID header.
// Authentication proper lives in front of this service.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User-ID")
		if user == "" {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			d, err := s.limiter.Allow(r.Context(), userFrom(r.Context()))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "rate limit error", nil)
				return
			}
			if !d.Allowed {
				telemetry.RateLimitRejects.Inc()
				writeError(w, http.StatusTooManyRequests, "rate limited", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

type createWorkItemRequest struct {
	Type             string     `json:"type"`
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	Priority         *int       `json:"priority"`
	OwnerID          *string    `json:"owner_id"`
	DueAt            *time.Time `json:"due_at"`
	Tags             []string   `json:"tags"`
	NeedsProofing    bool       `json:"needs_proofing"`
	DeliverableType  *string    `json:"deliverable_type"`
	TBPMagazineIssue *string    `json:"tbp_magazine_issue"`
}

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req createWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	var problems []string
	if req.Type == "" {
		problems = append(problems, "type is required")
	} else if !models.ValidType(req.Type) {
		problems = append(problems, "unknown work item type "+req.Type)
	}
	if req.Title == "" {
		problems = append(problems, "title is required")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid work item", problems)
		return
	}

	priority := models.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	item, err := s.store.CreateWorkItem(r.Context(), store.CreateWorkItemParams{
		Type:             req.Type,
		Title:            req.Title,
		Description:      req.Description,
		Priority:         priority,
		RequesterID:      userFrom(r.Context()),
		OwnerID:          req.OwnerID,
		DueAt:            req.DueAt,
		Tags:             req.Tags,
		NeedsProofing:    req.NeedsProofing,
		DeliverableType:  req.DeliverableType,
		TBPMagazineIssue: req.TBPMagazineIssue,
		DefaultDueDays:   s.cfg.DefaultDueDays,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create work item failed", nil)
		return
	}
	telemetry.AuditAppends.Inc()
	s.invalidateStats(r.Context())
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	subtasks, err := s.store.ListSubtasks(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	checks, err := s.store.ListQCChecks(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	qa := lifecycle.QAChecklistComplete(checks)
	writeJSON(w, http.StatusOK, map[string]any{
		"item":     item,
		"subtasks": subtasks,
		"qa": map[string]any{
			"complete": qa.Complete,
			"passed":   qa.Passed,
			"failed":   qa.Failed,
			"pending":  qa.Pending,
			"total":    qa.Total,
		},
	})
}

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.store.ListWorkItems(r.Context(), store.ListFilter{
		Status:  q.Get("status"),
		Type:    q.Get("type"),
		OwnerID: q.Get("owner_id"),
		Waiting: q.Get("waiting") == "true",
		Overdue: q.Get("overdue") == "true",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list work items failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleUpdateWorkItem is the transition endpoint: a partial patch with an
// optional status change, gated by the lifecycle engine. Gate failures
// reject the whole request; nothing is written.
func (s *Server) handleUpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req lifecycle.ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}

	item, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var checks []models.QCCheck
	if req.Status != nil {
		if checks, err = s.store.ListQCChecks(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	user := userFrom(r.Context())
	plan, err := lifecycle.PlanChange(item, req, checks, user, time.Now().UTC())
	if err != nil {
		var verr *lifecycle.ValidationError
		if errors.As(err, &verr) {
			telemetry.GateRejects.Inc()
			writeError(w, http.StatusUnprocessableEntity, "transition rejected", verr.Problems)
			return
		}
		writeError(w, http.StatusInternalServerError, "plan failed", nil)
		return
	}

	updated, err := s.store.ApplyPlan(r.Context(), plan, user)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if plan.Audit != nil {
		telemetry.AuditAppends.Inc()
		if plan.Audit.Action == models.AuditStatusChanged {
			telemetry.TransitionCounter.Inc()
		}
		s.invalidateStats(r.Context())
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteWorkItem(r.Context(), id, userFrom(r.Context())); err != nil {
		writeStoreError(w, err)
		return
	}
	telemetry.AuditAppends.Inc()
	s.invalidateStats(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list audit failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": logs})
}

func (s *Server) invalidateStats(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.InvalidateAll(ctx)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error", nil)
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg string, problems []string) {
	writeJSON(w, code, errorResponse{Error: msg, Problems: problems})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
