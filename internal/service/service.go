package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandro988/Weather-API/internal/cache"
	"github.com/sandro988/Weather-API/internal/eventlog"
	"github.com/sandro988/Weather-API/internal/models"
	"github.com/sandro988/Weather-API/internal/observability"
	"github.com/sandro988/Weather-API/internal/provider"
)

// freshnessWindow is the fixed age below which a cached entry is served
// without a provider call. An entry exactly this old is stale. Deliberately
// a constant, not configuration.
const freshnessWindow = 5 * time.Minute

// ErrInvalidCity is returned when the city is empty after normalization.
var ErrInvalidCity = errors.New("city is required")

// WeatherService orchestrates one weather lookup: cache check, provider
// fetch on miss, cache refresh, and an audit event for every request.
// No cross-request state lives here; concurrent same-city requests may
// redundantly fetch and the cache resolves them last-write-wins.
type WeatherService struct {
	client       provider.Client
	cache        cache.Store
	events       eventlog.Log
	logger       *zap.Logger
	eventTimeout time.Duration

	// now is replaceable in tests for freshness-boundary cases.
	now func() time.Time
}

// NewWeatherService creates a WeatherService. eventTimeout bounds each event
// log append; it falls back to 2s when zero.
func NewWeatherService(client provider.Client, cacheStore cache.Store, events eventlog.Log, logger *zap.Logger, eventTimeout time.Duration) *WeatherService {
	if events == nil {
		events = eventlog.NopLog{}
	}
	if eventTimeout <= 0 {
		eventTimeout = 2 * time.Second
	}
	return &WeatherService{
		client:       client,
		cache:        cacheStore,
		events:       events,
		logger:       logger,
		eventTimeout: eventTimeout,
		now:          time.Now,
	}
}

// GetWeather returns the weather for city, served from cache when the stored
// entry is younger than the freshness window and from the provider otherwise.
// Provider errors propagate unmasked; cache failures do not fail the request
// (a get failure is a forced miss, a put failure is logged and ignored).
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherRecord, error) {
	key := normalizeCity(city)
	start := time.Now()
	logger := s.requestLogger(ctx)

	if key == "" {
		s.appendEvent(ctx, key, "", models.OutcomeValidationError, ErrInvalidCity.Error())
		return models.WeatherRecord{}, ErrInvalidCity
	}
	observability.RecordWeatherQuery(key)

	entry, found, missReason := s.lookupCache(ctx, key, logger)
	if found {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		s.appendEvent(ctx, key, models.CacheHit, models.OutcomeSuccess, "")
		if logger != nil {
			logger.Debug("weather served", zap.String("city", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return entry.Record, nil
	}
	observability.CacheMissesTotal.WithLabelValues(missReason).Inc()
	if logger != nil {
		logger.Debug("cache miss, fetching from provider", zap.String("city", key), zap.String("reason", missReason))
	}

	record, err := s.client.Fetch(ctx, key)
	if err != nil {
		s.appendEvent(ctx, key, models.CacheMiss, models.OutcomeProviderError, err.Error())
		return models.WeatherRecord{}, fmt.Errorf("fetch weather for %s: %w", key, err)
	}

	s.storeEntry(ctx, key, record, logger)
	s.appendEvent(ctx, key, models.CacheMiss, models.OutcomeSuccess, "")
	if logger != nil {
		logger.Debug("weather served", zap.String("city", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return record, nil
}

// lookupCache reads the cache entry for key and applies the freshness test.
// Returns the entry when fresh; otherwise a miss reason for metrics. A read
// failure counts as a forced miss, never as a request failure.
func (s *WeatherService) lookupCache(ctx context.Context, key string, logger *zap.Logger) (models.CacheEntry, bool, string) {
	getStart := time.Now()
	entry, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		if logger != nil {
			logger.Warn("cache get failed, treating as miss", zap.String("city", key), zap.Error(err))
		}
		return models.CacheEntry{}, false, "read_error"
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !ok {
		return models.CacheEntry{}, false, "absent"
	}
	// Strictly less than the window: an entry exactly freshnessWindow old is stale.
	if s.now().Sub(entry.StoredAt) < freshnessWindow {
		return entry, true, ""
	}
	return models.CacheEntry{}, false, "stale"
}

// storeEntry writes the freshly fetched record back to the cache. StoredAt
// mirrors the record's FetchedAt. Failures are logged and absorbed: the
// response is served from the record either way.
func (s *WeatherService) storeEntry(ctx context.Context, key string, record models.WeatherRecord, logger *zap.Logger) {
	entry := models.CacheEntry{
		City:     key,
		Record:   record,
		StoredAt: record.FetchedAt,
	}
	setStart := time.Now()
	if err := s.cache.Put(ctx, entry); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("put", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("put", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("cache put failed", zap.String("city", key), zap.Error(err))
		}
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("put", "success").Observe(time.Since(setStart).Seconds())
}

// appendEvent writes the audit record for this request. The append runs
// synchronously with its own timeout, detached from request cancellation so
// an already-expired request still gets its event. Failures never alter the
// request outcome.
func (s *WeatherService) appendEvent(ctx context.Context, city string, result models.CacheResult, outcome models.Outcome, detail string) {
	record := models.EventLogRecord{
		EventID:     uuid.New().String(),
		City:        city,
		RequestedAt: time.Now().UTC(),
		CacheResult: result,
		Outcome:     outcome,
		Detail:      detail,
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTimeout)
	defer cancel()
	if err := s.events.Append(appendCtx, record); err != nil {
		if logger := s.requestLogger(ctx); logger != nil {
			logger.Warn("event log append failed", zap.String("city", city), zap.String("outcome", string(outcome)), zap.Error(err))
		}
	}
}

// requestLogger prefers the correlation-scoped logger placed in the context
// by middleware, falling back to the service logger.
func (s *WeatherService) requestLogger(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeCity normalizes city strings by trimming whitespace and converting
// to lowercase. Ensures consistent cache keys and provider queries regardless
// of input format.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
