package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saultoio/saulto-sync/pkg/database"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// ErrConnectionNotFound is returned when no connection exists for a
// (tenant, source type) pair.
var ErrConnectionNotFound = errors.New("connection not found")

// Token holds the bearer credentials for one source connection
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry minus the safety margin
func (t Token) Expired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		// Tokens without a recorded expiry never expire locally; the source
		// rejects them with a 401 when they do.
		return false
	}
	return time.Now().After(t.ExpiresAt.Add(-margin))
}

// Connection is one row per (tenant, source type) pair holding serialized
// credentials and source configuration. It is exclusively owned by the tenant.
type Connection struct {
	TenantID     int64
	SourceType   string
	Config       map[string]string
	Token        Token
	Status       string
	LastSyncedAt *time.Time
	Created      time.Time
	Updated      time.Time
}

// Store is the system of record for per-tenant source connections
type Store interface {
	GetConnection(ctx context.Context, tenantID int64, sourceType string) (*Connection, error)
	SaveConnection(ctx context.Context, conn *Connection) error
	ListConnections(ctx context.Context, tenantID int64) ([]*Connection, error)
	DeleteConnection(ctx context.Context, tenantID int64, sourceType string) error
	UpdateToken(ctx context.Context, tenantID int64, sourceType string, token Token) error
	MarkSynced(ctx context.Context, tenantID int64, sourceType string, at time.Time) error
}

// PostgresStore persists connections in the shared source_connections table
type PostgresStore struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewPostgresStore creates a new connection store backed by PostgreSQL
func NewPostgresStore(db *database.PostgreSQL, logger *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureTable creates the source_connections table if it does not exist
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS source_connections (
			tenant_id BIGINT NOT NULL,
			source_type TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}'::jsonb,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'connected',
			last_synced_at TIMESTAMPTZ,
			created TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, source_type)
		)
	`

	if _, err := s.db.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create source_connections table: %w", err)
	}
	return nil
}

// GetConnection retrieves the connection for a (tenant, source type) pair
func (s *PostgresStore) GetConnection(ctx context.Context, tenantID int64, sourceType string) (*Connection, error) {
	query := `
		SELECT tenant_id, source_type, config, access_token, refresh_token,
		       token_expires_at, status, last_synced_at, created, updated
		FROM source_connections
		WHERE tenant_id = $1 AND source_type = $2
	`

	row := s.db.Pool().QueryRow(ctx, query, tenantID, sourceType)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		s.logger.Errorf("Failed to get connection for tenant %d source %s: %v", tenantID, sourceType, err)
		return nil, err
	}

	return conn, nil
}

// SaveConnection inserts or replaces the connection row for its
// (tenant, source type) pair
func (s *PostgresStore) SaveConnection(ctx context.Context, conn *Connection) error {
	configJSON, err := json.Marshal(conn.Config)
	if err != nil {
		return fmt.Errorf("failed to serialize connection config: %w", err)
	}

	query := `
		INSERT INTO source_connections
			(tenant_id, source_type, config, access_token, refresh_token, token_expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, source_type) DO UPDATE SET
			config = EXCLUDED.config,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			status = EXCLUDED.status,
			updated = now()
	`

	var expiresAt *time.Time
	if !conn.Token.ExpiresAt.IsZero() {
		expiresAt = &conn.Token.ExpiresAt
	}

	status := conn.Status
	if status == "" {
		status = "connected"
	}

	_, err = s.db.Pool().Exec(ctx, query,
		conn.TenantID, conn.SourceType, configJSON,
		conn.Token.AccessToken, conn.Token.RefreshToken, expiresAt, status)
	if err != nil {
		s.logger.Errorf("Failed to save connection for tenant %d source %s: %v", conn.TenantID, conn.SourceType, err)
		return err
	}

	return nil
}

// ListConnections retrieves all connections for a tenant
func (s *PostgresStore) ListConnections(ctx context.Context, tenantID int64) ([]*Connection, error) {
	query := `
		SELECT tenant_id, source_type, config, access_token, refresh_token,
		       token_expires_at, status, last_synced_at, created, updated
		FROM source_connections
		WHERE tenant_id = $1
		ORDER BY source_type
	`

	rows, err := s.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conns, nil
}

// ListTenantIDs returns the distinct tenant ids that have at least one connection
func (s *PostgresStore) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT DISTINCT tenant_id FROM source_connections ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteConnection removes the connection for a (tenant, source type) pair
func (s *PostgresStore) DeleteConnection(ctx context.Context, tenantID int64, sourceType string) error {
	commandTag, err := s.db.Pool().Exec(ctx,
		`DELETE FROM source_connections WHERE tenant_id = $1 AND source_type = $2`,
		tenantID, sourceType)
	if err != nil {
		s.logger.Errorf("Failed to delete connection for tenant %d source %s: %v", tenantID, sourceType, err)
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// UpdateToken persists a refreshed token on the connection row
func (s *PostgresStore) UpdateToken(ctx context.Context, tenantID int64, sourceType string, token Token) error {
	var expiresAt *time.Time
	if !token.ExpiresAt.IsZero() {
		expiresAt = &token.ExpiresAt
	}

	commandTag, err := s.db.Pool().Exec(ctx, `
		UPDATE source_connections
		SET access_token = $3, refresh_token = $4, token_expires_at = $5, updated = now()
		WHERE tenant_id = $1 AND source_type = $2
	`, tenantID, sourceType, token.AccessToken, token.RefreshToken, expiresAt)
	if err != nil {
		s.logger.Errorf("Failed to update token for tenant %d source %s: %v", tenantID, sourceType, err)
		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// MarkSynced records the completion time of the last successful sync
func (s *PostgresStore) MarkSynced(ctx context.Context, tenantID int64, sourceType string, at time.Time) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE source_connections
		SET last_synced_at = $3, updated = now()
		WHERE tenant_id = $1 AND source_type = $2
	`, tenantID, sourceType, at)
	if err != nil {
		s.logger.Errorf("Failed to mark sync for tenant %d source %s: %v", tenantID, sourceType, err)
		return err
	}

	return nil
}

func scanConnection(row pgx.Row) (*Connection, error) {
	var (
		conn       Connection
		configJSON []byte
		expiresAt  *time.Time
	)

	err := row.Scan(
		&conn.TenantID,
		&conn.SourceType,
		&configJSON,
		&conn.Token.AccessToken,
		&conn.Token.RefreshToken,
		&expiresAt,
		&conn.Status,
		&conn.LastSyncedAt,
		&conn.Created,
		&conn.Updated,
	)
	if err != nil {
		return nil, err
	}

	if expiresAt != nil {
		conn.Token.ExpiresAt = *expiresAt
	}

	conn.Config = make(map[string]string)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &conn.Config); err != nil {
			return nil, fmt.Errorf("failed to parse connection config: %w", err)
		}
	}

	return &conn, nil
}
