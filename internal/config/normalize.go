// internal/config/normalize.go
package config

import "strings"

// DefaultUpdateIntervalMs is the tick interval used when the
// configuration does not set one.
const DefaultUpdateIntervalMs = 300

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Defaults.UpdateIntervalMs == 0 {
		cfg.Defaults.UpdateIntervalMs = DefaultUpdateIntervalMs
	}

	for i := range cfg.Registers {
		r := &cfg.Registers[i]

		r.Type = strings.ToLower(strings.TrimSpace(r.Type))
		r.Name = strings.TrimSpace(r.Name)
		r.VariableName = strings.TrimSpace(r.VariableName)
		r.Source = strings.TrimSpace(r.Source)
	}
}
