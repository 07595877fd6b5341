package models

import "time"

// CacheResult records whether a request was served from cache.
type CacheResult string

const (
	CacheHit  CacheResult = "HIT"
	CacheMiss CacheResult = "MISS"
)

// Outcome classifies how a request terminated.
type Outcome string

const (
	OutcomeSuccess         Outcome = "SUCCESS"
	OutcomeProviderError   Outcome = "PROVIDER_ERROR"
	OutcomeValidationError Outcome = "VALIDATION_ERROR"
)

// WeatherRecord is the normalized weather snapshot returned to clients.
// Immutable once produced by the provider client.
type WeatherRecord struct {
	City        string    `json:"city"`
	Temperature float64   `json:"temperature"`
	Condition   string    `json:"condition"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// CacheEntry is the stored cache value for one city. StoredAt always equals
// Record.FetchedAt; entries are overwritten wholesale and never deleted.
type CacheEntry struct {
	City     string        `json:"city"`
	Record   WeatherRecord `json:"record"`
	StoredAt time.Time     `json:"stored_at"`
}

// EventLogRecord is the append-only audit record written for each request.
type EventLogRecord struct {
	EventID     string      `json:"event_id"`
	City        string      `json:"city"`
	RequestedAt time.Time   `json:"requested_at"`
	CacheResult CacheResult `json:"cache_result,omitempty"`
	Outcome     Outcome     `json:"outcome"`
	Detail      string      `json:"detail,omitempty"`
}
