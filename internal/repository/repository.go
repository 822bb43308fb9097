// Package repository provides evaluation persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvaluation stores an evaluation record.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation ID is required", ErrInvalidInput)
	}

	input, err := json.Marshal(eval.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	reasons, err := json.Marshal(eval.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	metadata, err := json.Marshal(eval.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	modelFlag := 0
	if eval.ModelFlag {
		modelFlag = 1
	}

	query := `
		INSERT INTO evaluations (
			id, session_id, decision, label, anomaly_score, model_flag,
			threshold, timestamp, input, reasons, score_message,
			rule_message, error, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.SessionID, string(eval.Decision), eval.Label,
		eval.AnomalyScore, modelFlag, eval.Threshold, eval.Timestamp,
		string(input), string(reasons), eval.ScoreMessage,
		eval.RuleMessage, eval.Error, string(metadata),
	)
	return err
}

const selectEvaluation = `
	SELECT id, session_id, decision, label, anomaly_score, model_flag,
		   threshold, timestamp, input, reasons, score_message,
		   rule_message, error, metadata
	FROM evaluations
`

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectEvaluation+" WHERE id = ?"), evalID)

	eval, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eval, nil
}

// ListEvaluations returns a session's evaluations, newest first.
func (r *SQLRepository) ListEvaluations(ctx context.Context, sessionID string, limit int) ([]*domain.Evaluation, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := selectEvaluation + " WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(s scanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var decision, input, reasons, metadata string
	var modelFlag int
	var errText sql.NullString

	if err := s.Scan(
		&eval.ID, &eval.SessionID, &decision, &eval.Label,
		&eval.AnomalyScore, &modelFlag, &eval.Threshold, &eval.Timestamp,
		&input, &reasons, &eval.ScoreMessage,
		&eval.RuleMessage, &errText, &metadata,
	); err != nil {
		return nil, err
	}

	eval.Decision = domain.Decision(decision)
	eval.ModelFlag = modelFlag == 1
	eval.Error = errText.String

	if err := json.Unmarshal([]byte(input), &eval.Input); err != nil {
		return nil, fmt.Errorf("failed to decode input of %s: %w", eval.ID, err)
	}
	if err := json.Unmarshal([]byte(reasons), &eval.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons of %s: %w", eval.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &eval.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", eval.ID, err)
	}

	return &eval, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
