package pool

import "fmt"

// ConfigurationError is returned synchronously from New when opts
// fail validation (spec.md §4.4, §4.5, §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pool: configuration error: %s", e.Reason)
}
