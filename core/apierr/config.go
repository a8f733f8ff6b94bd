package apierr

import "fmt"

// ConfigurationError is a fatal startup error: alias collisions, duplicate
// routes and malformed declarations. A process that gets one must not serve.
type ConfigurationError struct {
	Module string
	Reason string
	Err    error
}

// Configf builds a ConfigurationError for module.
func Configf(module, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Module: module, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Module != "" {
		msg = fmt.Sprintf("module %q: %s", e.Module, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
