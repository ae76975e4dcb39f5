// Package landing writes fetched source records into the tenant's raw
// landing tables as untyped JSONB rows.
package landing

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saultoio/saulto-sync/internal/schema"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// insertChunkSize bounds the number of rows per INSERT statement so a large
// sync never builds an unbounded parameter list.
const insertChunkSize = 500

// identPattern restricts table name components to what the landing layer
// generates itself. Anything else is rejected before touching SQL.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Writer lands raw records into per-tenant landing tables
type Writer struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewWriter creates a landing writer over the given connection pool
func NewWriter(pool *pgxpool.Pool, logger *logger.Logger) *Writer {
	return &Writer{
		pool:   pool,
		logger: logger,
	}
}

// TableName returns the landing table name for a source entity
func TableName(sourceType, entity string) string {
	return fmt.Sprintf("raw_%s_%s", sourceType, entity)
}

// Land replaces the tenant's landed rows for one source entity with the given
// records. The table is created on first use, prior rows from the same source
// system are deleted, and the new rows are inserted in chunks. Returns the
// number of rows written.
func (w *Writer) Land(ctx context.Context, tenantID int64, sourceType, entity string, records []source.Record) (int, error) {
	if !identPattern.MatchString(sourceType) || !identPattern.MatchString(entity) {
		return 0, fmt.Errorf("invalid landing table component: source=%q entity=%q", sourceType, entity)
	}

	table := qualifiedTable(tenantID, sourceType, entity)

	if err := w.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin landing transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Full-replace load: stale rows from a prior sync would otherwise
	// survive upstream deletions.
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE source_system = $1", table), sourceType); err != nil {
		return 0, fmt.Errorf("failed to clear landing table %s: %w", table, err)
	}

	written := 0
	for start := 0; start < len(records); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(records) {
			end = len(records)
		}

		n, err := w.insertChunk(ctx, tx, table, tenantID, sourceType, records[start:end])
		if err != nil {
			return 0, err
		}
		written += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit landing transaction: %w", err)
	}

	w.logger.Debugf("Landed %d %s %s records for tenant %d", written, sourceType, entity, tenantID)
	return written, nil
}

// ensureTable creates the landing table if it does not exist yet
func (w *Writer) ensureTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		data JSONB NOT NULL,
		source_system TEXT NOT NULL,
		tenant_id BIGINT NOT NULL,
		loaded_at TIMESTAMP DEFAULT now()
	)`, table)

	if _, err := w.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure landing table %s: %w", table, err)
	}
	return nil
}

// insertChunk inserts one chunk of records as a single multi-row INSERT
func (w *Writer) insertChunk(ctx context.Context, tx pgx.Tx, table string, tenantID int64, sourceType string, records []source.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (data, source_system, tenant_id) VALUES ", table)

	args := make([]interface{}, 0, len(records)*3)
	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize record for %s: %w", table, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, data, sourceType, tenantID)
	}

	tag, err := tx.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into landing table %s: %w", table, err)
	}
	return int(tag.RowsAffected()), nil
}

// qualifiedTable builds the schema-qualified landing table reference
func qualifiedTable(tenantID int64, sourceType, entity string) string {
	return fmt.Sprintf("%s.%s", schema.SchemaName(tenantID), TableName(sourceType, entity))
}
