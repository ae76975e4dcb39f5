// Package schema manages the per-tenant PostgreSQL schemas that isolate each
// tenant's analytics tables from every other tenant's.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saultoio/saulto-sync/pkg/logger"
)

// SchemaPrefix is the common prefix of all tenant schemas
const SchemaPrefix = "analytics_tenant_"

// ErrSchemaOperationFailed indicates a schema create or drop failed. Schema
// failures are fatal for the sync that needed them.
var ErrSchemaOperationFailed = errors.New("schema operation failed")

// ReconcileResult summarizes one reconciliation pass
type ReconcileResult struct {
	Created        []string `json:"created"`
	OrphansRemoved []string `json:"orphans_removed"`
	Errors         []string `json:"errors,omitempty"`
}

// TenantLister supplies the set of tenants that should have a schema
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// Manager creates, drops, and reconciles tenant schemas
type Manager struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewManager creates a schema manager over the given connection pool
func NewManager(pool *pgxpool.Pool, logger *logger.Logger) *Manager {
	return &Manager{
		pool:   pool,
		logger: logger,
	}
}

// SchemaName returns the schema name for a tenant
func SchemaName(tenantID int64) string {
	return fmt.Sprintf("%s%d", SchemaPrefix, tenantID)
}

// TenantID parses the tenant id out of a schema name. The second return is
// false when the name does not follow the tenant schema convention.
func TenantID(schemaName string) (int64, bool) {
	if !strings.HasPrefix(schemaName, SchemaPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(schemaName, SchemaPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EnsureSchema creates the tenant's schema if it does not already exist
func (m *Manager) EnsureSchema(ctx context.Context, tenantID int64) error {
	name := SchemaName(tenantID)

	if _, err := m.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(name))); err != nil {
		return fmt.Errorf("%w: create schema %s: %v", ErrSchemaOperationFailed, name, err)
	}

	m.logger.Debugf("Ensured schema %s", name)
	return nil
}

// DeleteSchema drops the tenant's schema and everything in it
func (m *Manager) DeleteSchema(ctx context.Context, tenantID int64) error {
	name := SchemaName(tenantID)

	if _, err := m.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", quoteIdent(name))); err != nil {
		return fmt.Errorf("%w: drop schema %s: %v", ErrSchemaOperationFailed, name, err)
	}

	m.logger.Infof("Dropped schema %s", name)
	return nil
}

// SchemaExists reports whether the tenant's schema is present
func (m *Manager) SchemaExists(ctx context.Context, tenantID int64) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		SchemaName(tenantID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema for tenant %d: %w", tenantID, err)
	}
	return exists, nil
}

// ListTables returns the tables and views in the tenant's schema, sorted
func (m *Manager) ListTables(ctx context.Context, tenantID int64) ([]string, error) {
	rows, err := m.pool.Query(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name",
		SchemaName(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to list tables for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ReconcileSchemas aligns the set of tenant schemas with the tenants known to
// the lister: missing schemas are created, schemas whose tenant no longer
// exists are dropped. Individual failures are collected so one bad schema
// does not stop the pass.
func (m *Manager) ReconcileSchemas(ctx context.Context, lister TenantLister) (*ReconcileResult, error) {
	tenantIDs, err := lister.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	existing, err := m.listTenantSchemas(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(tenantIDs))
	for _, id := range tenantIDs {
		wanted[SchemaName(id)] = true
	}

	result := &ReconcileResult{}

	for _, id := range tenantIDs {
		name := SchemaName(id)
		if existing[name] {
			continue
		}
		if err := m.EnsureSchema(ctx, id); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Created = append(result.Created, name)
	}

	orphans := make([]string, 0)
	for name := range existing {
		if !wanted[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)

	for _, name := range orphans {
		id, ok := TenantID(name)
		if !ok {
			continue
		}
		if err := m.DeleteSchema(ctx, id); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.OrphansRemoved = append(result.OrphansRemoved, name)
	}

	m.logger.Infof("Schema reconciliation complete: %d created, %d orphans removed, %d errors",
		len(result.Created), len(result.OrphansRemoved), len(result.Errors))
	return result, nil
}

// listTenantSchemas returns the existing schemas that follow the tenant
// naming convention
func (m *Manager) listTenantSchemas(ctx context.Context) (map[string]bool, error) {
	rows, err := m.pool.Query(ctx,
		"SELECT schema_name FROM information_schema.schemata WHERE schema_name LIKE $1",
		SchemaPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant schemas: %w", err)
	}
	defer rows.Close()

	schemas := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema name: %w", err)
		}
		if _, ok := TenantID(name); ok {
			schemas[name] = true
		}
	}
	return schemas, rows.Err()
}

// quoteIdent quotes a PostgreSQL identifier. Tenant schema names are derived
// from numeric ids, so this only guards against future callers.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
