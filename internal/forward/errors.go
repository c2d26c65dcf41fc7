package forward

import "fmt"

// ConfigError reports a required configuration field that could not be
// resolved from caller input, defaults, or environment probes. It is
// fatal for the invocation and raised before any network request.
type ConfigError struct {
	Field  string
	Reason string
}

// Error returns the formatted error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("forward: configuration: %s: %s", e.Field, e.Reason)
}
