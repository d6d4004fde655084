package service

// Standard structured logging field names, shared across services and
// middleware so log queries stay consistent.
const (
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	LogFieldMessageID  = "message_id"
	LogFieldTemplateID = "template_id"
	LogFieldChannel    = "channel"
	LogFieldPriority   = "priority"

	LogFieldService   = "service"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)
