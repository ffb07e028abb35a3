package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type PostgresStorage struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string, opts PoolOptions) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStorage{db: pool}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			destination_kind TEXT NOT NULL,
			target_url TEXT NOT NULL,
			project_id TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			event_kinds JSONB NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			integration_id TEXT NOT NULL REFERENCES integrations(id) ON DELETE CASCADE,
			lineage_id TEXT NOT NULL,
			retry_of TEXT NOT NULL DEFAULT '',
			event_kind TEXT NOT NULL,
			rendered_payload TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'pending',
			response_code INTEGER,
			response_excerpt TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			failure_kind TEXT NOT NULL DEFAULT '',
			attempt_number INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			sent_at TIMESTAMPTZ,
			UNIQUE (lineage_id, attempt_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_project ON integrations(project_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_event_kinds ON integrations USING GIN (event_kinds)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_integration ON delivery_attempts(integration_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_state ON delivery_attempts(state, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}

// --- Integrations ---

func (s *PostgresStorage) CreateIntegration(ctx context.Context, ig *models.Integration) error {
	kinds, _ := json.Marshal(ig.EventKinds)
	_, err := s.db.Exec(ctx,
		`INSERT INTO integrations (`+integrationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ig.ID, ig.Name, string(ig.DestinationKind), ig.TargetURL, ig.ProjectID, ig.OwnerID, string(kinds), ig.Active, ig.CreatedAt, ig.UpdatedAt,
	)
	return pgErr(err)
}

func scanPgIntegration(row pgx.Row) (*models.Integration, error) {
	var ig models.Integration
	var kind string
	var kinds []byte
	err := row.Scan(&ig.ID, &ig.Name, &kind, &ig.TargetURL, &ig.ProjectID, &ig.OwnerID, &kinds, &ig.Active, &ig.CreatedAt, &ig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ig.DestinationKind = models.DestinationKind(kind)
	if err := json.Unmarshal(kinds, &ig.EventKinds); err != nil {
		return nil, err
	}
	return &ig, nil
}

func (s *PostgresStorage) queryIntegrations(ctx context.Context, query string, args ...any) ([]models.Integration, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		ig, err := scanPgIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ig)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	ig, err := scanPgIntegration(s.db.QueryRow(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ig, err
}

func (s *PostgresStorage) ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.Integration, error) {
	var where []string
	var args []any
	if filter.DestinationKind != "" {
		args = append(args, string(filter.DestinationKind))
		where = append(where, fmt.Sprintf("destination_kind = $%d", len(args)))
	}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}

	q := `SELECT ` + integrationColumns + ` FROM integrations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	return s.queryIntegrations(ctx, q, args...)
}

func (s *PostgresStorage) UpdateIntegration(ctx context.Context, ig *models.Integration) error {
	kinds, _ := json.Marshal(ig.EventKinds)
	_, err := s.db.Exec(ctx,
		`UPDATE integrations SET name = $1, destination_kind = $2, target_url = $3, project_id = $4, event_kinds = $5, active = $6, updated_at = $7 WHERE id = $8`,
		ig.Name, string(ig.DestinationKind), ig.TargetURL, ig.ProjectID, string(kinds), ig.Active, ig.UpdatedAt, ig.ID,
	)
	return pgErr(err)
}

func (s *PostgresStorage) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.Exec(ctx, `UPDATE integrations SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now().UTC(), id)
	return err
}

func (s *PostgresStorage) DeleteIntegration(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) FindActiveSubscribers(ctx context.Context, kind models.EventKind, projectID string) ([]models.Integration, error) {
	q := `SELECT ` + integrationColumns + ` FROM integrations WHERE active AND event_kinds ? $1`
	args := []any{string(kind)}
	if projectID != "" {
		q += ` AND project_id = $2`
		args = append(args, projectID)
	}
	return s.queryIntegrations(ctx, q, args...)
}

// --- Delivery attempts ---

func (s *PostgresStorage) CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO delivery_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.IntegrationID, a.LineageID, a.RetryOf, string(a.EventKind), string(a.RenderedPayload), string(a.State), a.ResponseCode,
		a.ResponseExcerpt, a.ErrorDetail, string(a.FailureKind), a.AttemptNumber, a.LatencyMs, a.CreatedAt, a.SentAt,
	)
	return pgErr(err)
}

func (s *PostgresStorage) CompleteAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE delivery_attempts
		 SET state = $1, response_code = $2, response_excerpt = $3, error_detail = $4, failure_kind = $5, latency_ms = $6, sent_at = $7
		 WHERE id = $8 AND state = 'pending'`,
		string(a.State), a.ResponseCode, a.ResponseExcerpt, a.ErrorDetail, string(a.FailureKind), a.LatencyMs, a.SentAt, a.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptFinalized
	}
	return nil
}

func scanPgAttempt(row pgx.Row) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var kind, state, failure, payload string
	err := row.Scan(&a.ID, &a.IntegrationID, &a.LineageID, &a.RetryOf, &kind, &payload, &state, &a.ResponseCode,
		&a.ResponseExcerpt, &a.ErrorDetail, &failure, &a.AttemptNumber, &a.LatencyMs, &a.CreatedAt, &a.SentAt)
	if err != nil {
		return nil, err
	}
	a.EventKind = models.EventKind(kind)
	a.State = models.AttemptState(state)
	a.FailureKind = models.FailureKind(failure)
	a.RenderedPayload = json.RawMessage(payload)
	return &a, nil
}

func (s *PostgresStorage) queryAttempts(ctx context.Context, query string, args ...any) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeliveryAttempt
	for rows.Next() {
		a, err := scanPgAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	a, err := scanPgAttempt(s.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStorage) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.DeliveryAttempt, error) {
	var where []string
	var args []any
	if filter.IntegrationID != "" {
		args = append(args, filter.IntegrationID)
		where = append(where, fmt.Sprintf("integration_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.EventKind != "" {
		args = append(args, string(filter.EventKind))
		where = append(where, fmt.Sprintf("event_kind = $%d", len(args)))
	}

	q := `SELECT ` + attemptColumns + ` FROM delivery_attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit), filter.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return s.queryAttempts(ctx, q, args...)
}

func (s *PostgresStorage) LatestInLineage(ctx context.Context, lineageID string) (*models.DeliveryAttempt, error) {
	a, err := scanPgAttempt(s.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE lineage_id = $1 ORDER BY attempt_number DESC LIMIT 1`, lineageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStorage) ListRetryCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.DeliveryAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts a
		 WHERE a.state = 'failed' AND a.attempt_number < $1 AND a.created_at <= $2
		   AND NOT EXISTS (SELECT 1 FROM delivery_attempts n WHERE n.lineage_id = a.lineage_id AND n.attempt_number > a.attempt_number)
		   AND EXISTS (SELECT 1 FROM integrations i WHERE i.id = a.integration_id AND i.active)
		 ORDER BY a.created_at ASC LIMIT $3`,
		models.MaxAttemptNumber, olderThan.UTC(), listLimit(limit))
}

// --- Stats ---

func (s *PostgresStorage) GetStats(ctx context.Context, projectID string) (*models.Stats, error) {
	stats := &models.Stats{}

	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE d.state = 'sent'),
		       COUNT(*) FILTER (WHERE d.state = 'failed'),
		       COUNT(*) FILTER (WHERE d.state = 'pending')
		FROM delivery_attempts d JOIN integrations i ON d.integration_id = i.id
		WHERE $1 = '' OR i.project_id = $1`, projectID,
	).Scan(&stats.TotalAttempts, &stats.SentCount, &stats.FailedCount, &stats.PendingCount)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE active)
		FROM integrations WHERE $1 = '' OR project_id = $1`, projectID,
	).Scan(&stats.TotalIntegrations, &stats.ActiveIntegrations)
	if err != nil {
		return nil, err
	}

	successRate(stats)
	return stats, nil
}

func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return ErrConflict
	}
	return err
}
