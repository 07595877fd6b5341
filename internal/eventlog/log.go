package eventlog

import (
	"context"
	"errors"

	"github.com/sandro988/Weather-API/internal/models"
)

// ErrUnavailable wraps backend failures on append. Callers treat appends as
// best-effort: an append failure never fails the request it records.
var ErrUnavailable = errors.New("event log unavailable")

// Log is append-only persistence of request events. Write-only from this
// service's perspective; nothing here reads records back.
type Log interface {
	Append(ctx context.Context, record models.EventLogRecord) error
	Close() error
}

// NopLog discards records. Used in dev when no brokers are configured.
type NopLog struct{}

func (NopLog) Append(ctx context.Context, record models.EventLogRecord) error { return nil }

func (NopLog) Close() error { return nil }
