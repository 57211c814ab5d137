package recovery

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the recovery tunables.
type Config struct {
	// Retries allowed per error key before falling back
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Delay before a scheduled retry runs
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// Failures older than RetryWindow no longer count against a key
	RetryWindow time.Duration `json:"retry_window" yaml:"retry_window"`

	// Further failures on a key already in fallback before escalating to reload.
	// Zero disables escalation.
	ReloadAfterFallbackErrors int `json:"reload_after_fallback_errors" yaml:"reload_after_fallback_errors"`

	// Visible delay between choosing reload and performing it
	ReloadGrace time.Duration `json:"reload_grace" yaml:"reload_grace"`

	// Number of error records kept
	HistorySize int `json:"history_size" yaml:"history_size"`
}

// DefaultConfig returns the recovery defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                3,
		RetryDelay:                time.Second,
		RetryWindow:               time.Minute,
		ReloadAfterFallbackErrors: 3,
		ReloadGrace:               2 * time.Second,
		HistorySize:               50,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	var errs []error

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.RetryDelay < 0 || c.ReloadGrace < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.RetryWindow <= 0 {
		errs = append(errs, errors.New("retry window must be positive"))
	}
	if c.ReloadAfterFallbackErrors < 0 {
		errs = append(errs, errors.New("reload escalation threshold must not be negative"))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}
