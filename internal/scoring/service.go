package scoring

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/session"
)

// ScoreRequestedEvent is the payload of domain.TopicScoreRequested.
type ScoreRequestedEvent struct {
	SessionID string                  `json:"sessionId"`
	TraceID   string                  `json:"traceId,omitempty"`
	Input     domain.TransactionInput `json:"input"`
	Threshold *float64                `json:"threshold,omitempty"`
}

// Service ties the pipeline to session history. Calls on the same session
// are serialized; calls on different sessions run in parallel.
type Service struct {
	pipeline *Pipeline
	sessions *session.Store
	locks    *session.Locker

	// Optional
	repo domain.Repository
	bus  domain.EventBus
}

// NewService creates a scoring service. repo and eventBus may be nil.
func NewService(pipeline *Pipeline, sessions *session.Store, repo domain.Repository, eventBus domain.EventBus) *Service {
	return &Service{
		pipeline: pipeline,
		sessions: sessions,
		locks:    session.NewLocker(),
		repo:     repo,
		bus:      eventBus,
	}
}

// Pipeline returns the underlying pipeline.
func (s *Service) Pipeline() *Pipeline {
	return s.pipeline
}

// Repository returns the audit repository, or nil.
func (s *Service) Repository() domain.Repository {
	return s.repo
}

// CreateSession starts a session with an empty history.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	id, err := s.sessions.Create(ctx)
	if err != nil {
		return "", err
	}
	metrics.SessionsStartedTotal.Inc()
	slog.Debug("session created", "session_id", id)
	return id, nil
}

// EndSession discards the session and its history.
func (s *Service) EndSession(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	metrics.SessionsEndedTotal.Inc()
	slog.Debug("session ended", "session_id", id)
	return nil
}

// History returns the session's current history.
func (s *Service) History(ctx context.Context, id string) (history.Log, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.sessions.Load(ctx, id)
}

// ClearHistory empties the session's history. The session stays open.
func (s *Service) ClearHistory(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.sessions.Load(ctx, id); err != nil {
		return err
	}
	return s.sessions.Save(ctx, id, history.Log{})
}

// Score runs req against the session named by req.SessionID and stores the
// updated history. The error is non-nil when the session is unknown, the
// input is invalid, or the session could not be saved; a failed scoring
// stage is reported in the result instead.
func (s *Service) Score(ctx context.Context, req Request) (*Result, history.Log, error) {
	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	log, err := s.sessions.Load(ctx, req.SessionID)
	if err != nil {
		return nil, history.Log{}, err
	}

	result, updated, err := s.pipeline.Score(ctx, req, log)
	if err != nil {
		return nil, log, err
	}

	if !result.Outcome.Failed() {
		if err := s.sessions.Save(ctx, req.SessionID, updated); err != nil {
			return nil, log, err
		}
	}

	s.record(ctx, result)

	return result, updated, nil
}

// record persists and announces a result. Failures here never change the
// outcome returned to the caller.
func (s *Service) record(ctx context.Context, result *Result) {
	eval := result.Evaluation

	if s.repo != nil {
		if err := s.repo.SaveEvaluation(ctx, eval); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	if s.bus == nil {
		return
	}

	if err := bus.PublishJSON(ctx, s.bus, domain.TopicDecision, eval); err != nil {
		slog.Error("failed to publish decision",
			"evaluation_id", eval.ID,
			"error", err,
		)
	}

	if decision.ShouldAlert(result.Outcome) {
		if err := bus.PublishJSON(ctx, s.bus, domain.TopicAlert, eval); err != nil {
			slog.Error("failed to publish alert",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}
}
