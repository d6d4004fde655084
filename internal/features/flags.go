package features

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Flag names understood by the runtime.
const (
	FlagCircuitBreaker  = "circuit_breaker"
	FlagWebsocketEvents = "websocket_events"
	FlagRedisDedup      = "redis_dedup"
	FlagTemplateSync    = "template_sync"
	FlagStaleMonitor    = "stale_monitor"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagCircuitBreaker, "Wrap provider calls in a circuit breaker", true},
	{FlagWebsocketEvents, "Expose the websocket event stream", true},
	{FlagRedisDedup, "Use Redis for webhook dedup instead of process memory", true},
	{FlagTemplateSync, "Poll the provider for template review status", true},
	{FlagStaleMonitor, "Watch for messages stuck without delivery confirmation", true},
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager creates a manager seeded with the default flags and any
// MSGFLOW_FEATURE_<NAME>=true/false environment overrides.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag)}
	for _, def := range DefaultFlags {
		fm.flags[def.Name] = &Flag{
			Name:        def.Name,
			Enabled:     def.DefaultValue,
			Description: def.Description,
			UpdatedAt:   time.Now(),
		}
	}
	fm.applyEnvOverrides()
	return fm
}

func (fm *FlagManager) applyEnvOverrides() {
	for name, flag := range fm.flags {
		envKey := "MSGFLOW_FEATURE_" + strings.ToUpper(name)
		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		flag.Enabled = strings.EqualFold(val, "true")
		flag.UpdatedAt = time.Now()
	}
}

// IsEnabled reports whether the flag is on. Unknown flags are off.
func (fm *FlagManager) IsEnabled(name string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	flag, ok := fm.flags[name]
	return ok && flag.Enabled
}

// Set flips a flag at runtime.
func (fm *FlagManager) Set(name string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	flag, ok := fm.flags[name]
	if !ok {
		return fmt.Errorf("unknown feature flag %q", name)
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now()
	return nil
}

// All returns a snapshot of the flags, for the admin endpoint.
func (fm *FlagManager) All() []Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	out := make([]Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		out = append(out, *flag)
	}
	return out
}
