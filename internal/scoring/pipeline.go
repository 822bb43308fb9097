// Package scoring runs one transaction through the full risk pipeline:
// feature vector, rules, scaling, anomaly model, decision and history.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-scoring")

// Request is one scoring call.
type Request struct {
	SessionID string
	TraceID   string
	Input     domain.TransactionInput

	// Threshold overrides the configured default when set.
	Threshold *float64
}

// Result is the outcome of one scoring call.
type Result struct {
	Evaluation *domain.Evaluation
	Outcome    decision.Outcome
}

// Pipeline scores transactions against shared, read-only artifacts.
// It is safe for concurrent use; history is owned by the caller.
type Pipeline struct {
	artifacts        *model.Artifacts
	engine           *rules.Engine
	combiner         *decision.Combiner
	defaultThreshold float64
	now              func() time.Time
}

// NewPipeline creates a scoring pipeline.
func NewPipeline(artifacts *model.Artifacts, engine *rules.Engine, combiner *decision.Combiner, cfg domain.ScoringConfig) (*Pipeline, error) {
	if artifacts == nil {
		return nil, fmt.Errorf("%w: artifacts not loaded", domain.ErrArtifactMissing)
	}
	if engine == nil {
		return nil, fmt.Errorf("rule engine is required")
	}
	if combiner == nil {
		combiner = decision.NewCombiner()
	}
	if err := domain.ValidateThreshold(cfg.DefaultThreshold); err != nil {
		return nil, fmt.Errorf("invalid default threshold: %w", err)
	}

	return &Pipeline{
		artifacts:        artifacts,
		engine:           engine,
		combiner:         combiner,
		defaultThreshold: cfg.DefaultThreshold,
		now:              time.Now,
	}, nil
}

// SetClock replaces the time source used for timestamps.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// DefaultThreshold returns the threshold used when a request has none.
func (p *Pipeline) DefaultThreshold() float64 {
	return p.defaultThreshold
}

// Artifacts returns the shared artifact context.
func (p *Pipeline) Artifacts() *model.Artifacts {
	return p.artifacts
}

// Score evaluates req and returns the result together with the updated
// history. log is never modified; the returned log differs from it only
// when scoring succeeded.
//
// The returned error is non-nil only for invalid input, in which case the
// transaction was not scored. Scale and model failures are reported as a
// domain.DecisionError outcome.
func (p *Pipeline) Score(ctx context.Context, req Request, log history.Log) (*Result, history.Log, error) {
	start := p.now()

	threshold := p.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := req.Input.Validate(); err != nil {
		return nil, log, err
	}
	if err := domain.ValidateThreshold(threshold); err != nil {
		return nil, log, err
	}

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Float64("threshold", threshold),
		),
	)
	defer span.End()

	tx := req.Input
	eval := &domain.Evaluation{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Timestamp: start.UTC(),
		Input:     tx,
		Threshold: threshold,
	}

	schema := p.artifacts.Schema()
	vec := features.Build(schema, &tx)
	if !features.MerchantKnown(schema, &tx) {
		metrics.MerchantColumnMissingTotal.Inc()
		slog.Debug("merchant category has no feature column",
			"merchant", tx.MerchantCategory,
			"session_id", req.SessionID,
		)
	}

	rulesStart := time.Now()
	finding, err := p.evaluateRules(ctx, &tx)
	eval.Metadata.RulesMs = time.Since(rulesStart).Milliseconds()

	var outcome decision.Outcome
	scoringStart := time.Now()
	if err != nil {
		outcome = p.combiner.Fail(err, finding)
	} else if score, err := p.score(ctx, vec, threshold); err != nil {
		outcome = p.combiner.Fail(err, finding)
	} else {
		outcome = p.combiner.Combine(score, finding)
		eval.AnomalyScore = score.AnomalyScore
		eval.ModelFlag = score.ModelFlag
	}
	eval.Metadata.ScoringMs = time.Since(scoringStart).Milliseconds()

	eval.Decision = outcome.Decision
	eval.Label = outcome.Label
	eval.Reasons = outcome.Reasons
	eval.ScoreMessage = outcome.ScoreMessage
	eval.RuleMessage = outcome.RuleMessage

	traceID := req.TraceID
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		traceID = sc.TraceID().String()
	}
	eval.Metadata.TraceID = traceID
	eval.Metadata.EngineVersion = EngineVersion

	updated := log
	if outcome.Failed() {
		eval.Error = outcome.Error.Error()
		metrics.ScoringFailuresTotal.Inc()
		span.SetStatus(codes.Error, eval.Error)
		slog.Warn("scoring failed",
			"evaluation_id", eval.ID,
			"session_id", req.SessionID,
			"error", outcome.Error,
		)
	} else {
		updated = log.Clone()
		updated.Append(history.Entry{
			Time:          eval.Timestamp,
			Amount:        tx.Amount,
			Hour:          tx.HourOfDay,
			Distance:      tx.DistanceFromHome,
			International: tx.IsInternational,
			Result:        outcome.Label,
			Score:         history.FormatScore(eval.AnomalyScore),
			Warning:       finding.Warning(),
		})
	}

	elapsed := p.now().Sub(start)
	eval.Metadata.TotalMs = elapsed.Milliseconds()
	metrics.ObserveScoring(string(eval.Decision), eval.Reasons, elapsed)

	span.SetAttributes(
		attribute.String("decision", string(eval.Decision)),
		attribute.Float64("anomaly.score", eval.AnomalyScore),
	)

	return &Result{Evaluation: eval, Outcome: outcome}, updated, nil
}

func (p *Pipeline) evaluateRules(ctx context.Context, tx *domain.TransactionInput) (rules.Finding, error) {
	_, span := tracer.Start(ctx, "scoring.rules")
	defer span.End()

	f, err := p.engine.Evaluate(tx)
	span.SetAttributes(attribute.StringSlice("rules.tags", f.Tags()))
	if err != nil {
		span.RecordError(err)
	}
	return f, err
}

// score scales a private copy of the vector and runs the anomaly model.
func (p *Pipeline) score(ctx context.Context, vec *features.Vector, threshold float64) (decision.Score, error) {
	_, span := tracer.Start(ctx, "scoring.model")
	defer span.End()

	scaled := vec.Clone()
	if err := features.ApplyScaler(scaled, p.artifacts.ScaledColumns(), p.artifacts.Scaler()); err != nil {
		span.RecordError(err)
		return decision.Score{}, err
	}

	values := scaled.Values()
	scorer := p.artifacts.Scorer()

	label, err := scorer.Classify(values)
	if err != nil {
		span.RecordError(err)
		return decision.Score{}, err
	}
	anomaly, err := scorer.AnomalyScore(values)
	if err != nil {
		span.RecordError(err)
		return decision.Score{}, err
	}

	return decision.Score{
		AnomalyScore: anomaly,
		ModelFlag:    label == domain.OutlierLabel,
		Threshold:    threshold,
	}, nil
}
