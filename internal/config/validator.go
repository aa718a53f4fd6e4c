package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "playback.speed")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// maxPlaybackSpeed bounds realtime playback acceleration.
const maxPlaybackSpeed = 1000.0

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTrace()...)
	errors = append(errors, c.validatePlayback()...)

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if strings.ContainsRune(c.Logging.Dir, 0) {
		errors = append(errors, ValidationError{
			Field:   "logging.dir",
			Value:   c.Logging.Dir,
			Message: "contains invalid characters",
		})
	}

	return errors
}

// validateTrace validates the TraceConfig
func (c *Config) validateTrace() []ValidationError {
	var errors []ValidationError

	if c.Trace.Filter != "" {
		if _, err := glob.Compile(c.Trace.Filter, '.'); err != nil {
			errors = append(errors, ValidationError{
				Field:   "trace.filter",
				Value:   c.Trace.Filter,
				Message: fmt.Sprintf("is not a valid topic pattern: %v", err),
			})
		}
	}

	if c.Trace.Color != "" && !slices.Contains(ValidColorModes(), c.Trace.Color) {
		errors = append(errors, ValidationError{
			Field:   "trace.color",
			Value:   c.Trace.Color,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
		})
	}

	return errors
}

// validatePlayback validates the PlaybackConfig
func (c *Config) validatePlayback() []ValidationError {
	var errors []ValidationError

	if c.Playback.Speed <= 0 {
		errors = append(errors, ValidationError{
			Field:   "playback.speed",
			Value:   c.Playback.Speed,
			Message: "must be positive",
		})
	} else if c.Playback.Speed > maxPlaybackSpeed {
		errors = append(errors, ValidationError{
			Field:   "playback.speed",
			Value:   c.Playback.Speed,
			Message: fmt.Sprintf("exceeds maximum of %v", maxPlaybackSpeed),
		})
	}

	return errors
}
