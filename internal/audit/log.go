package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pmrp.org/internal/auth"
	"pmrp.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["user_id"] = p.Identity.ID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Entry is one persisted API request record.
type Entry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder persists request entries for later analysis.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// EndpointCount is one row of a top-N breakdown.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

// UserCount is one row of a per-user breakdown.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// Stats summarizes API traffic over a period.
type Stats struct {
	Period       Period          `json:"period"`
	Total        int64           `json:"total_requests"`
	Errors       int64           `json:"error_requests"`
	ErrorRate    float64         `json:"error_rate"`
	AvgLatencyMS float64         `json:"avg_latency_ms"`
	TopEndpoints []EndpointCount `json:"top_endpoints"`
	TopUsers     []UserCount     `json:"top_users"`
}

// StatsProvider aggregates request entries recorded since a point in time.
type StatsProvider interface {
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// Period is a supported stats window.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
)

// ParsePeriod validates a raw period string; empty defaults to 24h.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.TrimSpace(raw)); p {
	case "":
		return Period24h, nil
	case Period24h, Period7d, Period30d:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", raw)
	}
}

// Window returns the inclusive start of the period ending at now.
func (p Period) Window(now time.Time) time.Time {
	switch p {
	case Period7d:
		return now.Add(-7 * 24 * time.Hour)
	case Period30d:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-24 * time.Hour)
	}
}
