package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetEvaluation", func(t *testing.T) {
		eval := &domain.Evaluation{
			ID:        "eval-001",
			SessionID: "session-001",
			Timestamp: base,
			Input: domain.TransactionInput{
				Amount:           60000,
				HourOfDay:        3,
				DistanceFromHome: 12.5,
				IsInternational:  true,
				MerchantCategory: "Travel",
			},
			Decision:     domain.DecisionFraudAlert,
			Label:        domain.DecisionFraudAlert.Label(),
			AnomalyScore: -0.8104,
			ModelFlag:    true,
			Threshold:    -0.65,
			Reasons:      []string{"high amount", "strange time", "international"},
			ScoreMessage: "Anomaly score: -0.8104 (lower = more suspicious)",
			RuleMessage:  "⚠ Suspicious pattern: high amount / strange time / international",
			Metadata: domain.EvaluationMetadata{
				TraceID:       "trace-001",
				TotalMs:       2,
				EngineVersion: "kestrel-1.0",
			},
		}

		if err := repo.SaveEvaluation(ctx, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		got, err := repo.GetEvaluation(ctx, "eval-001")
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}

		if got.Decision != domain.DecisionFraudAlert {
			t.Errorf("expected FRAUD_ALERT, got %s", got.Decision)
		}
		if !got.ModelFlag {
			t.Error("expected model flag to round-trip")
		}
		if got.Input.MerchantCategory != "Travel" || got.Input.HourOfDay != 3 {
			t.Errorf("input did not round-trip: %+v", got.Input)
		}
		if len(got.Reasons) != 3 || got.Reasons[1] != "strange time" {
			t.Errorf("reasons did not round-trip: %v", got.Reasons)
		}
		if got.RuleMessage != eval.RuleMessage || got.Label != eval.Label {
			t.Errorf("messages did not round-trip: %q / %q", got.Label, got.RuleMessage)
		}
		if got.Metadata.TraceID != "trace-001" {
			t.Errorf("expected trace-001, got %s", got.Metadata.TraceID)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("expected timestamp %s, got %s", base, got.Timestamp)
		}
	})

	t.Run("ErrorOutcome", func(t *testing.T) {
		eval := &domain.Evaluation{
			ID:           "eval-err",
			SessionID:    "session-001",
			Timestamp:    base.Add(time.Minute),
			Decision:     domain.DecisionError,
			Label:        "Error",
			Reasons:      []string{},
			ScoreMessage: "Failed: schema mismatch",
			RuleMessage:  "(no suspicious rules triggered)",
			Error:        "schema mismatch",
		}
		if err := repo.SaveEvaluation(ctx, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		got, err := repo.GetEvaluation(ctx, "eval-err")
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if !got.Failed() || got.Error != "schema mismatch" {
			t.Errorf("error outcome did not round-trip: %+v", got)
		}
	})

	t.Run("ListEvaluations", func(t *testing.T) {
		for i, id := range []string{"eval-a", "eval-b"} {
			_ = repo.SaveEvaluation(ctx, &domain.Evaluation{
				ID:        id,
				SessionID: "session-002",
				Timestamp: base.Add(time.Duration(i) * time.Hour),
				Decision:  domain.DecisionNormal,
				Label:     domain.DecisionNormal.Label(),
				Reasons:   []string{},
			})
		}

		evals, err := repo.ListEvaluations(ctx, "session-002", 10)
		if err != nil {
			t.Fatalf("ListEvaluations failed: %v", err)
		}
		if len(evals) != 2 {
			t.Fatalf("expected 2 evaluations, got %d", len(evals))
		}
		if evals[0].ID != "eval-b" {
			t.Errorf("expected newest first, got %s", evals[0].ID)
		}

		if _, err := repo.ListEvaluations(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		eval := &domain.Evaluation{ID: "eval-dup", SessionID: "s", Timestamp: base, Decision: domain.DecisionNormal, Reasons: []string{}}
		_ = repo.SaveEvaluation(ctx, eval)
		if err := repo.SaveEvaluation(ctx, eval); err == nil {
			t.Error("expected error for duplicate evaluation ID")
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		if err := repo.SaveEvaluation(ctx, &domain.Evaluation{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err = repo.GetEvaluation(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
