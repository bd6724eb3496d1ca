package fraud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/fraudgate/internal/pagination"
	"github.com/mbd888/fraudgate/migrations"
)

// PostgresStore persists assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations. Deployments that run
// cmd/migrate see a no-op here.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db)
}

const assessmentColumns = `id, user_id, transaction_type, amount, probability, decision, model_id, features, evaluated_at`

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_assessments (`+assessmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID,
		a.UserID,
		a.TransactionType,
		a.Amount,
		a.Probability,
		string(a.Decision),
		a.ModelID,
		pq.Float64Array(a.Features),
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM fraud_assessments WHERE id = $1`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Assessment, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+assessmentColumns+`
			FROM fraud_assessments
			WHERE user_id = $1
			ORDER BY evaluated_at DESC, id DESC
			LIMIT $2
		`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+assessmentColumns+`
			FROM fraud_assessments
			WHERE user_id = $1 AND (evaluated_at, id) < ($2, $3)
			ORDER BY evaluated_at DESC, id DESC
			LIMIT $4
		`, userID, cursor.At, cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(sc scanner) (*Assessment, error) {
	var (
		a        Assessment
		decision string
		feats    pq.Float64Array
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.TransactionType, &a.Amount, &a.Probability,
		&decision, &a.ModelID, &feats, &a.EvaluatedAt); err != nil {
		return nil, err
	}
	a.Decision = Decision(decision)
	a.Features = []float64(feats)
	a.EvaluatedAt = a.EvaluatedAt.UTC()
	return &a, nil
}
