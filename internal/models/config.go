package models

// Config holds the application configuration
type Config struct {
	Provider  ProviderConfig `json:"provider"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Dispatch  DispatchConfig `json:"dispatch"`
	Templates TemplateConfig `json:"templates"`
	Retry     RetryConfig    `json:"retry"`
	Server    ServerConfig   `json:"server"`
	Tracing   TracingConfig  `json:"tracing"`
	LogLevel  string         `json:"log_level"`
}

// ProviderConfig holds the outbound provider API configuration
type ProviderConfig struct {
	APIBaseURL string `json:"api_base_url"`
	APIKey     string `json:"-"`
	TimeoutSec int    `json:"timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig holds the dedup-window store configuration. An empty Addr
// selects the in-process fallback window.
type RedisConfig struct {
	Addr             string `json:"addr"`
	DedupWindowHours int    `json:"dedupWindowHours"`
}

// DispatchConfig holds scheduler and retry policy configuration
type DispatchConfig struct {
	TickIntervalSec           int `json:"tickIntervalSec"`
	HighVolumeTickIntervalSec int `json:"highVolumeTickIntervalSec"`
	BatchSize                 int `json:"batchSize"`
	Concurrency               int `json:"concurrency"`
	MaxRetryAttempts          int `json:"maxRetryAttempts"`
	RetryBaseIntervalSec      int `json:"retryBaseIntervalSec"`
	StaleCheckIntervalSec     int `json:"staleCheckIntervalSec"`
	StaleThresholdSec         int `json:"staleThresholdSec"`
}

// TemplateConfig holds the template provider sync configuration
type TemplateConfig struct {
	SyncEnabled         bool `json:"syncEnabled"`
	SyncIntervalSec     int  `json:"syncIntervalSec"`
	BackfillIntervalSec int  `json:"backfillIntervalSec"`
}

// RetryConfig holds infrastructure retry configuration (database init and
// other local operations, not the message retry policy).
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
