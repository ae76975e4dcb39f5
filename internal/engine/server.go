package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/saultoio/saulto-sync/internal/credentials"
	"github.com/saultoio/saulto-sync/internal/source"
	"github.com/saultoio/saulto-sync/internal/sqlcompile"
	"github.com/saultoio/saulto-sync/pkg/health"
)

// syncTimeout bounds one whole sync pipeline invocation; there is no
// cooperative cancellation inside a fetch, so the wall clock is the only
// hard stop.
const syncTimeout = 30 * time.Minute

type Server struct {
	engine *Engine
	router *mux.Router
}

func NewServer(engine *Engine) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/connectors", s.handleListConnectors).Methods(http.MethodGet)

	s.router.HandleFunc("/api/companies/{companyID}/connectors", s.handleListConnections).Methods(http.MethodGet)
	s.router.HandleFunc("/api/companies/{companyID}/connectors/{source}", s.handleSaveConnection).Methods(http.MethodPost)
	s.router.HandleFunc("/api/companies/{companyID}/connectors/{source}", s.handleDeleteConnection).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/companies/{companyID}/connectors/{source}/test", s.handleTestConnection).Methods(http.MethodPost)
	s.router.HandleFunc("/api/companies/{companyID}/connectors/{source}/sync", s.handleSync).Methods(http.MethodPost)
	s.router.HandleFunc("/api/companies/{companyID}/connectors/{source}/transform", s.handleTransform).Methods(http.MethodPost)
	s.router.HandleFunc("/api/companies/{companyID}/tables", s.handleListTables).Methods(http.MethodGet)
	s.router.HandleFunc("/api/companies/{companyID}/sync", s.handleSyncAll).Methods(http.MethodPost)
	s.router.HandleFunc("/api/companies/{companyID}", s.handleOffboard).Methods(http.MethodDelete)

	s.router.HandleFunc("/api/admin/reconcile-schemas", s.handleReconcile).Methods(http.MethodPost)

	s.router.HandleFunc("/api/filters/compile", s.handleCompileFilter).Methods(http.MethodPost)
	s.router.HandleFunc("/api/metrics/query", s.handleMetricQuery).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.engine.health.GetOverallStatus()

	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.engine.health.GetAllChecks(),
	})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	type connectorInfo struct {
		SourceType          string   `json:"source_type"`
		Entities            []string `json:"entities"`
		RequiredCredentials []string `json:"required_credentials"`
	}

	infos := make([]connectorInfo, 0)
	for _, name := range s.engine.registry.ListRegistered() {
		connector, err := s.engine.registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, connectorInfo{
			SourceType:          connector.Name(),
			Entities:            connector.Entities(),
			RequiredCredentials: connector.RequiredCredentials(),
		})
	}

	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}

	conns, err := s.engine.store.ListConnections(r.Context(), tenantID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	type connectionInfo struct {
		SourceType   string     `json:"source_type"`
		Status       string     `json:"status"`
		LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	}

	infos := make([]connectionInfo, 0, len(conns))
	for _, conn := range conns {
		infos = append(infos, connectionInfo{
			SourceType:   conn.SourceType,
			Status:       conn.Status,
			LastSyncedAt: conn.LastSyncedAt,
		})
	}

	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleSaveConnection(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	sourceType := mux.Vars(r)["source"]

	connector, err := s.engine.registry.Get(sourceType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req struct {
		Config       map[string]string `json:"config"`
		AccessToken  string            `json:"access_token"`
		RefreshToken string            `json:"refresh_token"`
		ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conn := &credentials.Connection{
		TenantID:   tenantID,
		SourceType: sourceType,
		Config:     req.Config,
		Token: credentials.Token{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
		Status: "connected",
	}
	if req.ExpiresAt != nil {
		conn.Token.ExpiresAt = *req.ExpiresAt
	}

	if missing := source.ValidateCredentials(connector, conn); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "missing credentials",
			"missing": missing,
		})
		return
	}

	if err := s.engine.store.SaveConnection(r.Context(), conn); err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	sourceType := mux.Vars(r)["source"]

	if err := s.engine.store.DeleteConnection(r.Context(), tenantID, sourceType); err != nil {
		if errors.Is(err, credentials.ErrConnectionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	sourceType := mux.Vars(r)["source"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	connector, err := s.engine.registry.Get(sourceType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.engine.store.GetConnection(ctx, tenantID, sourceType)
	if err != nil {
		if errors.Is(err, credentials.ErrConnectionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.serverError(w, err)
		return
	}

	if err := connector.TestConnection(ctx, conn.Token, conn.Config); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	sourceType := mux.Vars(r)["source"]

	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()

	result := s.engine.pipeline.SyncSource(ctx, tenantID, sourceType)
	if !result.Success {
		s.engine.TrackError()
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	sourceType := mux.Vars(r)["source"]

	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()

	result, err := s.engine.pipeline.RunTransformations(ctx, tenantID, sourceType)
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}

	tables, err := s.engine.schemas.ListTables(r.Context(), tenantID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()

	results, err := s.engine.pipeline.SyncAllSources(ctx, tenantID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleOffboard(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}

	conns, err := s.engine.store.ListConnections(r.Context(), tenantID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	for _, conn := range conns {
		if err := s.engine.store.DeleteConnection(r.Context(), tenantID, conn.SourceType); err != nil {
			s.serverError(w, err)
			return
		}
	}

	if err := s.engine.schemas.DeleteSchema(r.Context(), tenantID); err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "offboarded"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	lister, ok := s.engine.store.(interface {
		ListTenantIDs(ctx context.Context) ([]int64, error)
	})
	if !ok {
		http.Error(w, "reconciliation not supported by this credential store", http.StatusNotImplemented)
		return
	}

	result, err := s.engine.schemas.ReconcileSchemas(r.Context(), lister)
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompileFilter(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	var req struct {
		Source string             `json:"source"`
		Filter *sqlcompile.Filter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	compiled := sqlcompile.Compile(req.Filter, req.Source)

	code := http.StatusOK
	if !compiled.Valid() {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, compiled)
}

func (s *Server) handleMetricQuery(w http.ResponseWriter, r *http.Request) {
	s.engine.TrackOperation()
	defer s.engine.UntrackOperation()

	var req struct {
		CompanyID   int64              `json:"company_id"`
		BaseQuery   string             `json:"base_query"`
		Filter      *sqlcompile.Filter `json:"filter,omitempty"`
		Source      string             `json:"source"`
		Aggregate   string             `json:"aggregate"`
		ValueColumn string             `json:"value_column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CompanyID <= 0 {
		http.Error(w, "company_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	value, compiled, err := s.engine.ExecuteMetric(ctx, req.CompanyID, req.BaseQuery,
		req.Filter, req.Source, req.Aggregate, req.ValueColumn)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !compiled.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, compiled)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"value": value,
		"sql":   compiled.SQL,
	})
}

// tenantID parses the companyID path variable. Writes a 400 and returns
// false when it is not a positive integer.
func (s *Server) tenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["companyID"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid company id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.engine.TrackError()
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
