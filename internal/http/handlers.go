package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandro988/Weather-API/internal/cache"
	"github.com/sandro988/Weather-API/internal/eventlog"
	"github.com/sandro988/Weather-API/internal/lifecycle"
	"github.com/sandro988/Weather-API/internal/models"
	"github.com/sandro988/Weather-API/internal/provider"
	"github.com/sandro988/Weather-API/internal/service"
	"github.com/sandro988/Weather-API/internal/traffic"
	"github.com/sandro988/Weather-API/internal/validation"
)

// WeatherGetter is the slice of the service layer the handlers need.
type WeatherGetter interface {
	GetWeather(ctx context.Context, city string) (models.WeatherRecord, error)
}

// HealthConfig holds the dependency checks and thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
	// CachePing, when set, is called to check cache backend reachability.
	CachePing func(ctx context.Context) error
	// EventLogPing, when set, is called to check event log reachability.
	EventLogPing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   WeatherGetter
	client           provider.Client
	healthConfig     *HealthConfig
	logger           *zap.Logger
	cityMaxLength    int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. cityMaxLength bounds the city query
// parameter (runes); it falls back to 100 when zero.
func NewHandler(
	weatherService WeatherGetter,
	client provider.Client,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	cityMaxLength int,
) *Handler {
	if cityMaxLength <= 0 {
		cityMaxLength = 100
	}
	return &Handler{
		weatherService: weatherService,
		client:         client,
		healthConfig:   healthConfig,
		logger:         logger,
		cityMaxLength:  cityMaxLength,
	}
}

// GetWeather handles GET /weather?city={name}. Validation failures are
// rejected here, before the orchestrator runs, so a bad request causes no
// provider, cache, or event log call.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"), h.cityMaxLength)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.weatherService.GetWeather(r.Context(), city)
	if err != nil {
		traffic.RecordError()
		h.writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps orchestrator errors onto the HTTP error taxonomy.
// Provider errors arrive unmasked and are classified with errors.Is; anything
// unrecognized becomes a generic 500 with no internal detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCity):
		writeError(w, http.StatusBadRequest, "invalid_request", "city is required")
	case errors.Is(err, provider.ErrCityNotFound):
		writeError(w, http.StatusNotFound, "city_not_found", "no weather data for the requested city")
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "provider_timeout", "weather provider did not respond in time")
	case errors.Is(err, provider.ErrUnavailable),
		errors.Is(err, cache.ErrUnavailable),
		errors.Is(err, eventlog.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "unable to fetch weather data")
	default:
		if logger := requestLogger(r); logger != nil {
			logger.Error("unhandled error", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
	if logger := requestLogger(r); logger != nil {
		logger.Debug("request failed", zap.Error(err))
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.EventLogPing != nil {
		if h.healthConfig.EventLogPing(r.Context()) == nil {
			checks["eventLog"] = "healthy"
		} else {
			checks["eventLog"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-cache-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > API key invalid > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errorCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errorCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// errorResponse is the structured error body: a stable error code plus an
// optional human-readable detail. 500 responses omit the detail entirely.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error body.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

// requestLogger extracts the correlation-scoped logger placed in the request
// context by middleware. Returns nil when absent.
func requestLogger(r *http.Request) *zap.Logger {
	if v := r.Context().Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return nil
}
