package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type ctxKey int

const requestInfoKey ctxKey = iota

// RequestInfo carries the correlation ids attached to a request context.
// TraceID stays empty until an otel span is started for the request.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// NewRequestID returns a fresh correlation id.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// StartRequest stamps the context with a new request id and start time.
// When an otel span is already active its trace id is mirrored in for log
// correlation.
func StartRequest(ctx context.Context) (context.Context, RequestInfo) {
	info := RequestInfo{
		RequestID: NewRequestID(),
		StartTime: time.Now(),
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// GetRequestInfo reads correlation data back out of the context. A context
// without StartRequest yields the zero value.
func GetRequestInfo(ctx context.Context) RequestInfo {
	if info, ok := ctx.Value(requestInfoKey).(RequestInfo); ok {
		return info
	}
	return RequestInfo{}
}

// Duration reports the time elapsed since StartRequest.
func Duration(ctx context.Context) time.Duration {
	info := GetRequestInfo(ctx)
	if info.StartTime.IsZero() {
		return 0
	}
	return time.Since(info.StartTime)
}
