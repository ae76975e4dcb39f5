// Package engine runs the HTTP surface of the sync service and executes
// compiled metric queries against the analytics database.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/pipeline"
	"github.com/saultoio/saulto-sync/internal/schema"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/internal/sqlcompile"
	"github.com/saultoio/saulto-sync/pkg/config"
	"github.com/saultoio/saulto-sync/pkg/health"
	"github.com/saultoio/saulto-sync/pkg/logger"
)

// Engine owns the HTTP server and the collaborators the handlers call into
type Engine struct {
	config   *config.Config
	server   *http.Server
	pool     *pgxpool.Pool
	store    credentials.Store
	registry *source.Registry
	pipeline *pipeline.Pipeline
	schemas  *schema.Manager
	health   *health.Checker
	logger   *logger.Logger
	state    struct {
		sync.Mutex
		isRunning         bool
		ongoingOperations int32
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine creates the engine. Start wires the HTTP server.
func NewEngine(cfg *config.Config, pool *pgxpool.Pool, store credentials.Store,
	registry *source.Registry, p *pipeline.Pipeline, schemas *schema.Manager,
	checker *health.Checker, logger *logger.Logger) *Engine {
	return &Engine{
		config:   cfg,
		pool:     pool,
		store:    store,
		registry: registry,
		pipeline: p,
		schemas:  schemas,
		health:   checker,
		logger:   logger,
	}
}

// Start begins serving HTTP on the configured port
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	if e.state.isRunning {
		e.state.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.state.isRunning = true
	e.state.Unlock()

	port := e.config.GetOrDefault("server.http_port", "8080")

	e.server = &http.Server{
		Addr:    ":" + port,
		Handler: NewServer(e),
	}

	go func() {
		e.logger.Infof("HTTP server listening on :%s", port)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			atomic.AddInt64(&e.metrics.errors, 1)
			e.logger.Errorf("HTTP server stopped: %v", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP server down gracefully
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	if !e.state.isRunning {
		e.state.Unlock()
		return nil
	}
	e.state.isRunning = false
	e.state.Unlock()

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// GetMetrics returns the engine's request counters
func (e *Engine) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests_processed": atomic.LoadInt64(&e.metrics.requestsProcessed),
		"errors":             atomic.LoadInt64(&e.metrics.errors),
	}
}

// TrackOperation records the start of an in-flight request
func (e *Engine) TrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, 1)
	atomic.AddInt64(&e.metrics.requestsProcessed, 1)
}

// UntrackOperation records the end of an in-flight request
func (e *Engine) UntrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, -1)
}

// TrackError records a failed request
func (e *Engine) TrackError() {
	atomic.AddInt64(&e.metrics.errors, 1)
}

// ExecuteMetric compiles, builds, and runs one metric query in the tenant's
// schema, returning the single aggregate value. Compilation errors come back
// inside the CompiledQuery; only execution failures are returned as an error.
func (e *Engine) ExecuteMetric(ctx context.Context, tenantID int64, baseQuery string,
	tree *sqlcompile.Filter, logicalSource, aggregateFn, valueColumn string) (interface{}, *sqlcompile.CompiledQuery, error) {

	compiled := sqlcompile.BuildMetricQuery(baseQuery, tree, logicalSource, aggregateFn, valueColumn)
	if !compiled.Valid() {
		return nil, &compiled, nil
	}

	sql, args := bindNamedParams(compiled.SQL, compiled.Parameters)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, &compiled, fmt.Errorf("failed to begin metric transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The compiled query references core views by bare name; resolve them in
	// the tenant's schema for the duration of the transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s", schema.SchemaName(tenantID))); err != nil {
		return nil, &compiled, fmt.Errorf("failed to set tenant search path: %w", err)
	}

	var value interface{}
	if err := tx.QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		return nil, &compiled, fmt.Errorf("metric query failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &compiled, fmt.Errorf("failed to commit metric transaction: %w", err)
	}

	return value, &compiled, nil
}

// bindNamedParams rewrites $param_N placeholders into positional $1..$n
// arguments in a stable order
func bindNamedParams(sql string, params map[string]interface{}) (string, []interface{}) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		// param_10 must sort after param_2, so compare by length first.
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	args := make([]interface{}, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		// Replace longest names first so $param_1 never clobbers $param_10.
		name := names[i]
		sql = strings.ReplaceAll(sql, "$"+name, fmt.Sprintf("$%d", i+1))
	}
	for _, name := range names {
		args = append(args, params[name])
	}
	return sql, args
}
