package constants

// Default dispatch configuration values
const (
	DefaultTickIntervalSec           = 30
	DefaultHighVolumeTickIntervalSec = 1
	DefaultBatchSize                 = 100
	DefaultConcurrency               = 10
	DefaultMaxRetryAttempts          = 3
	DefaultRetryBaseIntervalSec      = 60
	DefaultStaleCheckIntervalSec     = 300
	DefaultStaleThresholdSec         = 3600
)

// Default template sync configuration values
const (
	DefaultTemplateSyncIntervalSec     = 300
	DefaultTemplateBackfillIntervalSec = 60
)

// Default reconciler configuration values
const (
	DefaultDedupWindowHours = 24
)

// Default timeout values
const (
	DefaultProviderTimeoutSec    = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultServerPort            = 8082
	ServerErrorChannelSize       = 1
)

// Circuit breaker settings for provider calls
const (
	CBMaxFailures      = 5
	CBTimeoutSec       = 30
	CBHalfOpenMaxCalls = 3
)

// Limits
const (
	MaxBodyLength          = 4096
	MaxWebhookPayloadBytes = 64 * 1024
	MaxScheduleAheadDays   = 30
)
