package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with an instruction for fixing it.
type ConfigError struct {
	Code    string
	Message string
	Action  string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

const (
	ErrCodeConfigFile   = "CONFIG_FILE"
	ErrCodeInvalidValue = "INVALID_VALUE"
	ErrCodeOutOfRange   = "OUT_OF_RANGE"
	ErrCodeNoDevices    = "NO_DEVICES"
	ErrCodeTemplate     = "TEMPLATE"
)

func errConfigFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("Cannot read config file %s: %v", path, err),
		Action:  "Fix the file or pass --config with a valid .yaml, .toml or .json path",
	}
}

func errInvalidEnv(key, value, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value %q for %s", value, key),
		Action:  fmt.Sprintf("Set %s to %s", key, want),
	}
}

func errOutOfRange(field string, value any, lo, hi any) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeOutOfRange,
		Message: fmt.Sprintf("%s is %v", field, value),
		Action:  fmt.Sprintf("Use a value between %v and %v", lo, hi),
	}
}

// IsConfigError finds a ConfigError anywhere in err's chain.
func IsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrorCode returns the code of the first ConfigError in err, or "".
func ErrorCode(err error) string {
	if ce, ok := IsConfigError(err); ok {
		return ce.Code
	}
	return ""
}
