// internal/config/validate.go
package config

import (
	"fmt"
	"net"
	"strings"
)

var validTypes = map[string]struct{}{
	"uint16":  {},
	"uint32":  {},
	"int16":   {},
	"int32":   {},
	"float32": {},
}

// Validate checks configuration correctness.
// It performs declarative validation only: per-field and per-register
// checks. Cross-register invariants (address overlap, dangling
// references) belong to schema construction; cycles are detected by
// the dependency planner.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// DEFAULTS
	// ------------------------------------------------------------

	d := cfg.Defaults

	ip := net.ParseIP(d.IP)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("config: defaults.ip %q is not an IPv4 address", d.IP)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("config: defaults.port %d out of range 1-65535", d.Port)
	}
	if d.SlaveID < 1 || d.SlaveID > 247 {
		return fmt.Errorf("config: defaults.slave_id %d out of range 1-247", d.SlaveID)
	}
	if d.UpdateIntervalMs < 0 {
		return fmt.Errorf("config: defaults.update_interval_ms must not be negative")
	}

	// ------------------------------------------------------------
	// REGISTERS
	// ------------------------------------------------------------

	if len(cfg.Registers) == 0 {
		return fmt.Errorf("config: no registers defined")
	}

	for i, r := range cfg.Registers {
		if err := validateRegister(r); err != nil {
			return fmt.Errorf("config: register %d (%s): %w", i, registerLabel(r), err)
		}
	}

	return nil
}

func validateRegister(r Register) error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	if r.Address == nil {
		return fmt.Errorf("address is required")
	}
	if *r.Address < 0 || *r.Address > 65535 {
		return fmt.Errorf("address %d out of range 0-65535", *r.Address)
	}
	if _, ok := validTypes[strings.ToLower(strings.TrimSpace(r.Type))]; !ok {
		return fmt.Errorf("type %q must be one of uint16, uint32, int16, int32, float32", r.Type)
	}
	if r.Scale <= 0 {
		return fmt.Errorf("scale must be a positive number, got %v", r.Scale)
	}

	// ---- role exclusivity ----

	roles := 0
	if r.Randomize {
		roles++
	}
	if r.Accumulate {
		roles++
	}
	if r.Expression != "" {
		roles++
	}
	if r.Writable {
		roles++
	}
	if roles > 1 {
		return fmt.Errorf("at most one of randomize, accumulate, expression, writable may be set")
	}

	// ---- role parameters ----

	if r.Randomize {
		if r.BaseValue == nil {
			return fmt.Errorf("randomize requires base_value")
		}
		if r.Fluctuation == nil {
			return fmt.Errorf("randomize requires fluctuation")
		}
		if *r.Fluctuation <= 0 || *r.Fluctuation > 1 {
			return fmt.Errorf("fluctuation %v out of range (0,1]", *r.Fluctuation)
		}
	}
	if !r.Randomize && r.Fluctuation != nil {
		return fmt.Errorf("fluctuation is only valid with randomize")
	}

	if r.Accumulate && r.Source == "" {
		return fmt.Errorf("accumulate requires source")
	}
	if !r.Accumulate && r.Source != "" {
		return fmt.Errorf("source is only valid with accumulate")
	}

	if r.Writable {
		if r.VariableName == "" {
			return fmt.Errorf("writable requires variable_name")
		}
		if r.MinValue != nil && r.MaxValue == nil {
			return fmt.Errorf("min_value requires max_value")
		}
		if r.MaxValue != nil && r.MinValue == nil {
			return fmt.Errorf("max_value requires min_value")
		}
		if r.MinValue != nil && *r.MinValue > *r.MaxValue {
			return fmt.Errorf("min_value %v greater than max_value %v", *r.MinValue, *r.MaxValue)
		}
	} else {
		if r.VariableName != "" {
			return fmt.Errorf("variable_name is only valid with writable")
		}
		if r.MinValue != nil || r.MaxValue != nil {
			return fmt.Errorf("min_value/max_value are only valid with writable")
		}
	}

	return nil
}

func registerLabel(r Register) string {
	if r.Name != "" {
		return r.Name
	}
	return "unnamed"
}
