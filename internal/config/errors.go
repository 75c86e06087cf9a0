// Package config provides configuration types and defaults for splice.
package config

import "errors"

// Sentinel errors for configuration validation.
var (
	// ErrInvalidCRF indicates a CRF value outside the valid 0-51 range.
	ErrInvalidCRF = errors.New("CRF value out of range")

	// ErrInvalidPreset indicates an incomplete re-encode preset.
	ErrInvalidPreset = errors.New("re-encode preset invalid")

	// ErrInvalidProgressSplit indicates progress split points that are out of order.
	ErrInvalidProgressSplit = errors.New("progress split invalid")

	// ErrMissingBinary indicates an empty engine binary path.
	ErrMissingBinary = errors.New("engine binary not configured")

	// ErrInvalidBuffer indicates a non-positive subscriber buffer.
	ErrInvalidBuffer = errors.New("subscriber buffer invalid")

	// ErrInvalidEnvValue indicates an environment value that could not be parsed.
	ErrInvalidEnvValue = errors.New("environment value invalid")

	// ErrInvalidEnvFile indicates an env file that exists but could not be parsed.
	ErrInvalidEnvFile = errors.New("env file invalid")
)
