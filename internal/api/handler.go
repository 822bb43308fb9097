package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/session"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	service  *scoring.Service
	engine   *rules.Engine
	sessions *session.Store
	bus      domain.EventBus
	version  string

	// asyncEnabled reports whether a worker consumes score requests.
	asyncEnabled bool
}

// NewHandler creates a new API handler.
func NewHandler(service *scoring.Service, engine *rules.Engine, sessions *session.Store, bus domain.EventBus, version string, asyncEnabled bool) *Handler {
	return &Handler{
		service:      service,
		engine:       engine,
		sessions:     sessions,
		bus:          bus,
		version:      version,
		asyncEnabled: asyncEnabled,
	}
}

// ScoreRequest is the request body for POST /sessions/{id}/score.
type ScoreRequest struct {
	Amount           float64  `json:"amount"`
	Threshold        *float64 `json:"threshold,omitempty"`
	HourOfDay        int      `json:"hourOfDay"`
	DistanceFromHome float64  `json:"distanceFromHome"`
	IsInternational  bool     `json:"isInternational"`
	IsPinUsed        bool     `json:"isPinUsed"`
	IsChipUsed       bool     `json:"isChipUsed"`
	MerchantCategory string   `json:"merchantCategory"`
}

// Input returns the transaction part of the request.
func (r *ScoreRequest) Input() domain.TransactionInput {
	return domain.TransactionInput{
		Amount:           r.Amount,
		HourOfDay:        r.HourOfDay,
		DistanceFromHome: r.DistanceFromHome,
		IsInternational:  r.IsInternational,
		IsPinUsed:        r.IsPinUsed,
		IsChipUsed:       r.IsChipUsed,
		MerchantCategory: r.MerchantCategory,
	}
}

// ScoreResponse is the response for POST /sessions/{id}/score.
type ScoreResponse struct {
	EvaluationID string          `json:"evaluationId"`
	Decision     domain.Decision `json:"decision"`
	Result       string          `json:"result"`
	ScoreMessage string          `json:"scoreMessage"`
	RuleWarning  string          `json:"ruleWarning"`
	AnomalyScore float64         `json:"anomalyScore"`
	ModelFlag    bool            `json:"modelFlag"`
	Threshold    float64         `json:"threshold"`
	Reasons      []string        `json:"reasons"`
	Error        string          `json:"error,omitempty"`
	History      history.Table   `json:"history"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SchemaResponse describes the loaded feature layout.
type SchemaResponse struct {
	Columns            []string `json:"columns"`
	ScaledColumns      []string `json:"scaledColumns"`
	MerchantCategories []string `json:"merchantCategories"`
	DefaultThreshold   float64  `json:"defaultThreshold"`
	MinThreshold       float64  `json:"minThreshold"`
	MaxThreshold       float64  `json:"maxThreshold"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	ctx := r.Context()

	if err := h.sessions.Ping(ctx); err != nil {
		slog.Warn("session store unhealthy", "error", err)
		status = "degraded"
	}

	if repo := h.service.Repository(); repo != nil {
		if err := repo.Ping(ctx); err != nil {
			slog.Warn("repository unhealthy", "error", err)
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			slog.Warn("event bus unhealthy", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready. Artifacts are loaded before the server starts,
// so a running server is ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Schema handles GET /schema.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	p := h.service.Pipeline()
	a := p.Artifacts()

	writeJSON(w, http.StatusOK, SchemaResponse{
		Columns:            a.Schema().Columns(),
		ScaledColumns:      a.ScaledColumns(),
		MerchantCategories: append([]string(nil), domain.MerchantCategories...),
		DefaultThreshold:   p.DefaultThreshold(),
		MinThreshold:       domain.MinThreshold,
		MaxThreshold:       domain.MaxThreshold,
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.CreateSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":  id,
		"ttlSeconds": int64(h.sessions.TTL().Seconds()),
	})
}

// EndSession handles DELETE /sessions/{id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.EndSession(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Score handles POST /sessions/{id}/score.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, log, err := h.service.Score(ctx, scoring.Request{
		SessionID: id,
		TraceID:   GetTraceID(ctx),
		Input:     req.Input(),
		Threshold: req.Threshold,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	eval := result.Evaluation
	resp := ScoreResponse{
		EvaluationID: eval.ID,
		Decision:     eval.Decision,
		Result:       eval.Label,
		ScoreMessage: eval.ScoreMessage,
		RuleWarning:  eval.RuleMessage,
		AnomalyScore: eval.AnomalyScore,
		ModelFlag:    eval.ModelFlag,
		Threshold:    eval.Threshold,
		Reasons:      eval.Reasons,
		Error:        eval.Error,
		History:      log.Table(),
	}
	if resp.Reasons == nil {
		resp.Reasons = []string{}
	}
	resp.Metadata.TraceID = eval.Metadata.TraceID
	resp.Metadata.TotalMs = eval.Metadata.TotalMs
	resp.Metadata.Version = eval.Metadata.EngineVersion

	writeJSON(w, http.StatusOK, resp)
}

// ScoreAsync handles POST /sessions/{id}/score/async. The request is
// validated, queued on the event bus and answered with 202; the decision is
// published on the decision topic.
func (h *Handler) ScoreAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !h.asyncEnabled || h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async scoring not enabled",
		})
		return
	}

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	input := req.Input()
	if err := input.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Threshold != nil {
		if err := domain.ValidateThreshold(*req.Threshold); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if _, err := h.sessions.Load(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}

	traceID := GetTraceID(ctx)
	err := bus.PublishJSON(ctx, h.bus, domain.TopicScoreRequested, scoring.ScoreRequestedEvent{
		SessionID: id,
		TraceID:   traceID,
		Input:     input,
		Threshold: req.Threshold,
	})
	if err != nil {
		slog.Error("failed to queue score request",
			"session_id", id,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue score request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "queued",
		"sessionId": id,
		"traceId":   traceID,
	})
}

// GetHistory handles GET /sessions/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := h.service.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, log.Table())
}

// ClearHistory handles DELETE /sessions/{id}/history.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.ClearHistory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, history.Log{}.Table())
}

// GetEvaluation handles GET /evaluations/{id}.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	repo := h.service.Repository()
	if repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evaluation storage not configured",
		})
		return
	}

	eval, err := repo.GetEvaluation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListSessionEvaluations handles GET /sessions/{id}/evaluations.
func (h *Handler) ListSessionEvaluations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	repo := h.service.Repository()
	if repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "evaluation storage not configured",
		})
		return
	}

	evals, err := repo.ListEvaluations(r.Context(), id, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "evaluation not found"})
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
