package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/basketlabs/bvm/internal/engine"
	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/state"
	"github.com/gorilla/mux"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes vault state and rebalance history over HTTP.
type WebServer struct {
	router *mux.Router
	port   string
	vault  *engine.Vault
}

// NewWebServer creates a new web server instance serving data for the given vault.
func NewWebServer(port string, vault *engine.Vault) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  vault,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")
	api.HandleFunc("/rebalances", ws.handleGetRebalances).Methods("GET")
	api.HandleFunc("/rebalances/latest", ws.handleGetLatestRebalance).Methods("GET")
	api.HandleFunc("/basket", ws.handleGetBasket).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status including database reachability
// and the number of completed rebalances.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	rebalanceNumber := 0
	if dbHealthy {
		if n, err := state.GetCurrentRebalanceNumber(); err == nil {
			rebalanceNumber = n
		}
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "bvm-basket-vault-manager",
			"version": "1.0.0",
		},
		"bvm_status": map[string]interface{}{
			"database_healthy":   dbHealthy,
			"automation_enabled": ws.vault.AutomationEnabled(),
			"rebalance_count":    rebalanceNumber,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetEvents returns the most recent vault events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 50)

	events, err := state.ListEvents(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	response := map[string]interface{}{
		"events": events,
		"count":  len(events),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRebalances returns recent rebalance reports
func (ws *WebServer) handleGetRebalances(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	reports, err := state.ListReports(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get rebalance reports")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve rebalance reports")
		return
	}

	response := map[string]interface{}{
		"rebalances": reports,
		"count":      len(reports),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestRebalance returns the most recent rebalance report
func (ws *WebServer) handleGetLatestRebalance(w http.ResponseWriter, r *http.Request) {
	reports, err := state.ListReports(1)
	if err != nil || len(reports) == 0 {
		ws.writeErrorResponse(w, http.StatusNotFound, "No rebalances found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, reports[0])
}

// handleGetBasket returns the currently configured basket composition
func (ws *WebServer) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	entries := ws.vault.Basket()
	if len(entries) == 0 {
		ws.writeErrorResponse(w, http.StatusNotFound, "Vault not configured")
		return
	}

	tokens := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		tokens = append(tokens, map[string]interface{}{
			"token":          entry.Token.Hex(),
			"price_feed":     entry.PriceFeed.Hex(),
			"target_ppm":     entry.TargetAllocation,
			"ledger_balance": ws.vault.Balance(entry.Token).String(),
		})
	}

	response := map[string]interface{}{
		"basket": tokens,
		"count":  len(tokens),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultSummary returns the vault's configuration and parameters
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	entries := ws.vault.Basket()

	summary := map[string]interface{}{
		"owner":               ws.vault.Owner().Hex(),
		"beneficiary":         ws.vault.Beneficiary().Hex(),
		"fee_rate_bps":        ws.vault.FeeRate(),
		"rebalance_threshold": ws.vault.Threshold(),
		"automation_enabled":  ws.vault.AutomationEnabled(),
		"basket_size":         len(entries),
		"configured":          len(entries) > 0,
		"timestamp":           time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// parseLimit reads the limit query parameter, clamped to [1, 100].
func (ws *WebServer) parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
