// Package pipeline orchestrates a full sync for one tenant and source:
// schema, credentials, fetch, land, transform. Entity-level failures are
// recorded and the pipeline continues; only schema and credential failures
// abort the whole run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/landing"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/internal/token"
	"github.com/saultoio/saulto-sync/internal/transform"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// SyncResult reports the outcome of one sync run. Success means the pipeline
// completed, not that every entity fetched cleanly: partial entity failures
// leave Success true with the skipped work described in Error.
type SyncResult struct {
	RunID         string    `json:"run_id"`
	TenantID      int64     `json:"tenant_id"`
	SourceType    string    `json:"source_type"`
	Success       bool      `json:"success"`
	RecordsSynced int       `json:"records_synced"`
	TablesCreated []string  `json:"tables_created,omitempty"`
	LayersBuilt   []string  `json:"layers_built,omitempty"`
	Skipped       []string  `json:"skipped,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// SchemaManager is the slice of the schema manager the pipeline needs
type SchemaManager interface {
	EnsureSchema(ctx context.Context, tenantID int64) error
}

// TokenManager runs an authenticated operation with refresh-and-retry
type TokenManager interface {
	WithToken(ctx context.Context, tenantID int64, sourceType string, refresher token.Refresher, op token.Operation) error
}

// LandingWriter lands one entity's records into the tenant's raw table
type LandingWriter interface {
	Land(ctx context.Context, tenantID int64, sourceType, entity string, records []source.Record) (int, error)
}

// TransformRunner rebuilds the derived layers for a tenant and source
type TransformRunner interface {
	Run(ctx context.Context, tenantID int64, sourceType string) (*transform.Result, error)
}

// Pipeline wires the sync stages together
type Pipeline struct {
	store     credentials.Store
	registry  *source.Registry
	tokens    TokenManager
	schemas   SchemaManager
	landing   LandingWriter
	transform TransformRunner
	logger    *logger.Logger
}

// New creates a pipeline over the given collaborators
func New(store credentials.Store, registry *source.Registry, tokens TokenManager,
	schemas SchemaManager, landingWriter LandingWriter, transformEngine TransformRunner,
	logger *logger.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		registry:  registry,
		tokens:    tokens,
		schemas:   schemas,
		landing:   landingWriter,
		transform: transformEngine,
		logger:    logger,
	}
}

// SyncSource runs the full pipeline for one tenant and source: ensure the
// tenant schema, fetch every entity page by page under the token manager,
// land each entity's records, then rebuild the transform layers. Failed
// entities are skipped and noted; a sync with partial failures still reports
// success with a smaller record count.
func (p *Pipeline) SyncSource(ctx context.Context, tenantID int64, sourceType string) *SyncResult {
	result := &SyncResult{
		RunID:      uuid.New().String(),
		TenantID:   tenantID,
		SourceType: sourceType,
		StartedAt:  time.Now(),
	}
	defer func() { result.FinishedAt = time.Now() }()

	p.logger.Infof("Starting sync %s for tenant %d source %s", result.RunID, tenantID, sourceType)

	connector, err := p.registry.Get(sourceType)
	if err != nil {
		return result.fail(err)
	}

	conn, err := p.store.GetConnection(ctx, tenantID, sourceType)
	if err != nil {
		return result.fail(err)
	}

	if missing := source.ValidateCredentials(connector, conn); len(missing) > 0 {
		return result.fail(fmt.Errorf("connection is missing credentials: %s", strings.Join(missing, ", ")))
	}

	// Schema failures are fatal: no layer can be built without a namespace.
	if err := p.schemas.EnsureSchema(ctx, tenantID); err != nil {
		return result.fail(err)
	}

	opts := source.FetchOptions{}
	if conn.LastSyncedAt != nil {
		opts.UpdatedSince = *conn.LastSyncedAt
	}

	var entityErrors []string
	for _, entity := range connector.Entities() {
		count, err := p.syncEntity(ctx, tenantID, sourceType, connector, entity, opts)
		if err != nil {
			if source.IsReauthenticationRequired(err) {
				// No entity can succeed without a valid token.
				return result.fail(err)
			}
			p.logger.Warnf("Sync %s: entity %s failed: %v", result.RunID, entity, err)
			entityErrors = append(entityErrors, fmt.Sprintf("%s: %v", entity, err))
			result.Skipped = append(result.Skipped, entity)
			continue
		}
		result.RecordsSynced += count
		result.TablesCreated = append(result.TablesCreated, landing.TableName(sourceType, entity))
	}

	transformResult, err := p.transform.Run(ctx, tenantID, sourceType)
	if err != nil {
		return result.fail(err)
	}
	result.LayersBuilt = transformResult.LayersBuilt
	result.Skipped = append(result.Skipped, transformResult.Skipped...)

	if err := p.store.MarkSynced(ctx, tenantID, sourceType, result.StartedAt); err != nil {
		p.logger.Warnf("Sync %s: failed to record sync time: %v", result.RunID, err)
	}

	result.Success = true
	if len(entityErrors) > 0 {
		result.Error = "partial sync: " + strings.Join(entityErrors, "; ")
	}

	p.logger.Infof("Sync %s complete: %d records, %d tables, %d layers, %d skipped",
		result.RunID, result.RecordsSynced, len(result.TablesCreated), len(result.LayersBuilt), len(result.Skipped))
	return result
}

// syncEntity fetches every page of one entity and lands the combined batch.
// The whole fetch runs under one WithToken call so a mid-pagination token
// expiry gets the standard single refresh-and-retry.
func (p *Pipeline) syncEntity(ctx context.Context, tenantID int64, sourceType string,
	connector source.Connector, entity string, opts source.FetchOptions) (int, error) {

	var records []source.Record

	err := p.tokens.WithToken(ctx, tenantID, sourceType, connector, func(ctx context.Context, tok credentials.Token) error {
		records = records[:0]

		conn, err := p.store.GetConnection(ctx, tenantID, sourceType)
		if err != nil {
			return err
		}

		var state *source.PageState
		for {
			page, err := connector.FetchEntity(ctx, tok, conn.Config, entity, state, opts)
			if err != nil {
				return err
			}
			records = append(records, page.Records...)
			if page.Next == nil {
				return nil
			}
			state = page.Next
		}
	})
	if err != nil {
		return 0, err
	}

	return p.landing.Land(ctx, tenantID, sourceType, entity, records)
}

// RunTransformations rebuilds the derived layers for one tenant and source
// without a fresh fetch. Idempotent.
func (p *Pipeline) RunTransformations(ctx context.Context, tenantID int64, sourceType string) (*transform.Result, error) {
	if err := p.schemas.EnsureSchema(ctx, tenantID); err != nil {
		return nil, err
	}
	return p.transform.Run(ctx, tenantID, sourceType)
}

// SyncAllSources syncs every connected source for a tenant, one at a time.
// One source's failure never blocks the others.
func (p *Pipeline) SyncAllSources(ctx context.Context, tenantID int64) ([]*SyncResult, error) {
	conns, err := p.store.ListConnections(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections for tenant %d: %w", tenantID, err)
	}

	results := make([]*SyncResult, 0, len(conns))
	for _, conn := range conns {
		results = append(results, p.SyncSource(ctx, tenantID, conn.SourceType))
	}
	return results, nil
}

func (r *SyncResult) fail(err error) *SyncResult {
	r.Success = false
	r.Error = err.Error()
	return r
}
