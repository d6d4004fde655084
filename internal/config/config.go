package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"msgflow/internal/constants"
	"msgflow/internal/models"
	"msgflow/internal/security"
)

var (
	ErrMissingProviderURL = models.ConfigError{Message: "missing provider API URL"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Provider.APIBaseURL == "" {
		return ErrMissingProviderURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Provider.TimeoutSec <= 0 {
		c.Provider.TimeoutSec = constants.DefaultProviderTimeoutSec
	}

	if c.Dispatch.TickIntervalSec <= 0 {
		c.Dispatch.TickIntervalSec = constants.DefaultTickIntervalSec
	}
	if c.Dispatch.HighVolumeTickIntervalSec <= 0 {
		c.Dispatch.HighVolumeTickIntervalSec = constants.DefaultHighVolumeTickIntervalSec
	}
	if c.Dispatch.BatchSize <= 0 {
		c.Dispatch.BatchSize = constants.DefaultBatchSize
	}
	if c.Dispatch.Concurrency <= 0 {
		c.Dispatch.Concurrency = constants.DefaultConcurrency
	}
	if c.Dispatch.MaxRetryAttempts <= 0 {
		c.Dispatch.MaxRetryAttempts = constants.DefaultMaxRetryAttempts
	}
	if c.Dispatch.RetryBaseIntervalSec <= 0 {
		c.Dispatch.RetryBaseIntervalSec = constants.DefaultRetryBaseIntervalSec
	}
	if c.Dispatch.StaleCheckIntervalSec <= 0 {
		c.Dispatch.StaleCheckIntervalSec = constants.DefaultStaleCheckIntervalSec
	}
	if c.Dispatch.StaleThresholdSec <= 0 {
		c.Dispatch.StaleThresholdSec = constants.DefaultStaleThresholdSec
	}

	if c.Templates.SyncIntervalSec <= 0 {
		c.Templates.SyncIntervalSec = constants.DefaultTemplateSyncIntervalSec
	}
	if c.Templates.BackfillIntervalSec <= 0 {
		c.Templates.BackfillIntervalSec = constants.DefaultTemplateBackfillIntervalSec
	}

	if c.Redis.DedupWindowHours <= 0 {
		c.Redis.DedupWindowHours = constants.DefaultDedupWindowHours
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("MSGFLOW_PROVIDER_URL"); url != "" {
		c.Provider.APIBaseURL = url
	}

	// The provider API key is a secret and only ever comes from the
	// environment.
	if key := os.Getenv("MSGFLOW_PROVIDER_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}

	if path := os.Getenv("MSGFLOW_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("MSGFLOW_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}
