package transform

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saultoio/saulto-sync/internal/schema"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// Result summarizes one transformation run for a tenant and source
type Result struct {
	LayersBuilt []string `json:"layers_built"`
	Skipped     []string `json:"skipped,omitempty"`
}

// Plan splits a catalog into the artifacts to build and the artifacts to
// skip, given which raw landing tables are present. Availability propagates:
// a built artifact satisfies the dependencies of later ones, so skips cascade
// down a missing raw table's whole lineage.
func Plan(catalog []Artifact, available map[string]bool) (build, skipped []Artifact) {
	satisfied := make(map[string]bool, len(available))
	for name, ok := range available {
		satisfied[name] = ok
	}

	for _, artifact := range catalog {
		ready := true
		for _, dep := range artifact.DependsOn {
			if !satisfied[dep] {
				ready = false
				break
			}
		}
		if !ready {
			skipped = append(skipped, artifact)
			continue
		}
		satisfied[artifact.Name] = true
		build = append(build, artifact)
	}
	return build, skipped
}

// Engine rebuilds the analytics model for a tenant from its landed raw data
type Engine struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewEngine creates a transformation engine over the given connection pool
func NewEngine(pool *pgxpool.Pool, logger *logger.Logger) *Engine {
	return &Engine{
		pool:   pool,
		logger: logger,
	}
}

// Run rebuilds the source's transform catalog in the tenant's schema. Every
// catalog artifact is dropped first (core views before integration before
// staging, the reverse of build order), then the buildable subset is created
// fresh. Artifacts whose raw prerequisites have never been landed are skipped
// and reported, not failed.
func (e *Engine) Run(ctx context.Context, tenantID int64, sourceType string) (*Result, error) {
	catalog := CatalogFor(sourceType)
	if len(catalog) == 0 {
		return &Result{}, nil
	}

	schemaName := schema.SchemaName(tenantID)

	available, err := e.rawTables(ctx, schemaName, catalog)
	if err != nil {
		return nil, err
	}

	build, skipped := Plan(catalog, available)

	if err := e.dropAll(ctx, schemaName, catalog); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, artifact := range skipped {
		result.Skipped = append(result.Skipped, artifact.Name)
	}

	for _, artifact := range build {
		if _, err := e.pool.Exec(ctx, fmt.Sprintf(artifact.SQL, schemaName)); err != nil {
			return nil, fmt.Errorf("failed to build %s.%s: %w", schemaName, artifact.Name, err)
		}
		result.LayersBuilt = append(result.LayersBuilt, artifact.Name)
	}

	e.logger.Infof("Transformations complete for tenant %d source %s: %d built, %d skipped",
		tenantID, sourceType, len(result.LayersBuilt), len(result.Skipped))
	return result, nil
}

// rawTables probes which raw landing tables the catalog depends on exist
func (e *Engine) rawTables(ctx context.Context, schemaName string, catalog []Artifact) (map[string]bool, error) {
	names := make(map[string]bool)
	for _, artifact := range catalog {
		for _, dep := range artifact.DependsOn {
			if _, defined := names[dep]; !defined && !catalogDefines(catalog, dep) {
				names[dep] = false
			}
		}
	}

	for name := range names {
		var reg *string
		err := e.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", schemaName+"."+name).Scan(&reg)
		if err != nil {
			return nil, fmt.Errorf("failed to probe %s.%s: %w", schemaName, name, err)
		}
		names[name] = reg != nil
	}
	return names, nil
}

// dropAll removes every catalog artifact in reverse build order so dependent
// views go before the tables they read
func (e *Engine) dropAll(ctx context.Context, schemaName string, catalog []Artifact) error {
	for i := len(catalog) - 1; i >= 0; i-- {
		artifact := catalog[i]

		kind := "TABLE"
		if artifact.Kind == View {
			kind = "VIEW"
		}

		stmt := fmt.Sprintf("DROP %s IF EXISTS %s.%s CASCADE", kind, schemaName, artifact.Name)
		if _, err := e.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop %s.%s: %w", schemaName, artifact.Name, err)
		}
	}
	return nil
}

func catalogDefines(catalog []Artifact, name string) bool {
	for _, artifact := range catalog {
		if artifact.Name == name {
			return true
		}
	}
	return false
}
