package pkg

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration           = errors.New("invalid configuration")
	ErrInventory               = errors.New("inventory request failed")
	ErrObserveFailed           = errors.New("failed to get current IP")
	ErrRotationFailed          = errors.New("IP change request failed")
	ErrInvalidRotationResponse = errors.New("invalid response from IP change API")
	ErrIPMismatch              = errors.New("IP mismatch or new IP is the same as old IP")
)

// ConfigurationError reports a missing or unusable setting. It matches
// ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configErr(key, format string, args ...interface{}) error {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
