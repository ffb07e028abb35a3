package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/zentryhq/zentry-webhooks/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			destination_kind TEXT NOT NULL,
			target_url TEXT NOT NULL,
			project_id TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			event_kinds TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
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
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			sent_at DATETIME,
			UNIQUE (lineage_id, attempt_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_project ON integrations(project_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_integration ON delivery_attempts(integration_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_state ON delivery_attempts(state, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Integrations ---

const integrationColumns = `id, name, destination_kind, target_url, project_id, owner_id, event_kinds, active, created_at, updated_at`

func (s *SQLiteStorage) CreateIntegration(ctx context.Context, ig *models.Integration) error {
	kinds, _ := json.Marshal(ig.EventKinds)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (`+integrationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ig.ID, ig.Name, ig.DestinationKind, ig.TargetURL, ig.ProjectID, ig.OwnerID, string(kinds), boolInt(ig.Active), ig.CreatedAt, ig.UpdatedAt,
	)
	return sqliteErr(err)
}

func (s *SQLiteStorage) scanIntegration(row interface{ Scan(...interface{}) error }) (*models.Integration, error) {
	var ig models.Integration
	var kinds string
	var active int
	err := row.Scan(&ig.ID, &ig.Name, &ig.DestinationKind, &ig.TargetURL, &ig.ProjectID, &ig.OwnerID, &kinds, &active, &ig.CreatedAt, &ig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(kinds), &ig.EventKinds); err != nil {
		return nil, err
	}
	ig.Active = active == 1
	return &ig, nil
}

func (s *SQLiteStorage) queryIntegrations(ctx context.Context, query string, args ...interface{}) ([]models.Integration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		ig, err := s.scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ig)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	ig, err := s.scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ig, err
}

func (s *SQLiteStorage) ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.Integration, error) {
	var where []string
	var args []interface{}
	if filter.DestinationKind != "" {
		where = append(where, "destination_kind = ?")
		args = append(args, filter.DestinationKind)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}

	q := `SELECT ` + integrationColumns + ` FROM integrations`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	return s.queryIntegrations(ctx, q, args...)
}

func (s *SQLiteStorage) UpdateIntegration(ctx context.Context, ig *models.Integration) error {
	kinds, _ := json.Marshal(ig.EventKinds)
	_, err := s.db.ExecContext(ctx,
		`UPDATE integrations SET name = ?, destination_kind = ?, target_url = ?, project_id = ?, event_kinds = ?, active = ?, updated_at = ? WHERE id = ?`,
		ig.Name, ig.DestinationKind, ig.TargetURL, ig.ProjectID, string(kinds), boolInt(ig.Active), ig.UpdatedAt, ig.ID,
	)
	return sqliteErr(err)
}

func (s *SQLiteStorage) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE integrations SET active = ?, updated_at = ? WHERE id = ?`, boolInt(active), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) DeleteIntegration(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) FindActiveSubscribers(ctx context.Context, kind models.EventKind, projectID string) ([]models.Integration, error) {
	q := `SELECT ` + integrationColumns + ` FROM integrations
		WHERE active = 1 AND EXISTS (SELECT 1 FROM json_each(integrations.event_kinds) WHERE json_each.value = ?)`
	args := []interface{}{kind}
	if projectID != "" {
		q += ` AND project_id = ?`
		args = append(args, projectID)
	}
	return s.queryIntegrations(ctx, q, args...)
}

// --- Delivery attempts ---

const attemptColumns = `id, integration_id, lineage_id, retry_of, event_kind, rendered_payload, state, response_code,
	response_excerpt, error_detail, failure_kind, attempt_number, latency_ms, created_at, sent_at`

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IntegrationID, a.LineageID, a.RetryOf, a.EventKind, string(a.RenderedPayload), a.State, a.ResponseCode,
		a.ResponseExcerpt, a.ErrorDetail, a.FailureKind, a.AttemptNumber, a.LatencyMs, a.CreatedAt, a.SentAt,
	)
	return sqliteErr(err)
}

func (s *SQLiteStorage) CompleteAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delivery_attempts
		 SET state = ?, response_code = ?, response_excerpt = ?, error_detail = ?, failure_kind = ?, latency_ms = ?, sent_at = ?
		 WHERE id = ? AND state = 'pending'`,
		a.State, a.ResponseCode, a.ResponseExcerpt, a.ErrorDetail, a.FailureKind, a.LatencyMs, a.SentAt, a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAttemptFinalized
	}
	return nil
}

func (s *SQLiteStorage) scanAttempt(row interface{ Scan(...interface{}) error }) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var payload string
	err := row.Scan(&a.ID, &a.IntegrationID, &a.LineageID, &a.RetryOf, &a.EventKind, &payload, &a.State, &a.ResponseCode,
		&a.ResponseExcerpt, &a.ErrorDetail, &a.FailureKind, &a.AttemptNumber, &a.LatencyMs, &a.CreatedAt, &a.SentAt)
	if err != nil {
		return nil, err
	}
	a.RenderedPayload = json.RawMessage(payload)
	return &a, nil
}

func (s *SQLiteStorage) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeliveryAttempt
	for rows.Next() {
		a, err := s.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetAttempt(ctx context.Context, id string) (*models.DeliveryAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM delivery_attempts WHERE id = ?`, id)
	a, err := s.scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStorage) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]models.DeliveryAttempt, error) {
	var where []string
	var args []interface{}
	if filter.IntegrationID != "" {
		where = append(where, "integration_id = ?")
		args = append(args, filter.IntegrationID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, filter.State)
	}
	if filter.EventKind != "" {
		where = append(where, "event_kind = ?")
		args = append(args, filter.EventKind)
	}

	q := `SELECT ` + attemptColumns + ` FROM delivery_attempts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)
	return s.queryAttempts(ctx, q, args...)
}

func (s *SQLiteStorage) LatestInLineage(ctx context.Context, lineageID string) (*models.DeliveryAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts WHERE lineage_id = ? ORDER BY attempt_number DESC LIMIT 1`, lineageID)
	a, err := s.scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStorage) ListRetryCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.DeliveryAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts a
		 WHERE a.state = 'failed' AND a.attempt_number < ? AND a.created_at <= ?
		   AND NOT EXISTS (SELECT 1 FROM delivery_attempts n WHERE n.lineage_id = a.lineage_id AND n.attempt_number > a.attempt_number)
		   AND EXISTS (SELECT 1 FROM integrations i WHERE i.id = a.integration_id AND i.active = 1)
		 ORDER BY a.created_at ASC LIMIT ?`,
		models.MaxAttemptNumber, olderThan.UTC(), listLimit(limit))
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, projectID string) (*models.Stats, error) {
	stats := &models.Stats{}

	scope := `SELECT state, COUNT(*) FROM delivery_attempts d JOIN integrations i ON d.integration_id = i.id`
	igScope := `SELECT COUNT(*), COALESCE(SUM(active), 0) FROM integrations i`
	var args []interface{}
	if projectID != "" {
		scope += ` WHERE i.project_id = ?`
		igScope += ` WHERE i.project_id = ?`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, scope+` GROUP BY state`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var state models.AttemptState
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		stats.TotalAttempts += n
		switch state {
		case models.AttemptSent:
			stats.SentCount = n
		case models.AttemptFailed:
			stats.FailedCount = n
		case models.AttemptPending:
			stats.PendingCount = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, igScope, args...).Scan(&stats.TotalIntegrations, &stats.ActiveIntegrations); err != nil {
		return nil, err
	}

	successRate(stats)
	return stats, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return ErrConflict
	}
	return err
}
