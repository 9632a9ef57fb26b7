// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Defaults  Defaults   `yaml:"defaults"`
	Registers []Register `yaml:"registers"`
}

// ---- DEFAULTS ----

type Defaults struct {
	IP               string `yaml:"ip"`
	Port             int    `yaml:"port"`
	SlaveID          int    `yaml:"slave_id"`
	UpdateIntervalMs int    `yaml:"update_interval_ms"`
}

// ---- REGISTER ----

type Register struct {
	Address     *int    `yaml:"address"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Type        string  `yaml:"type"`
	Scale       float64 `yaml:"scale"`

	BaseValue *float64 `yaml:"base_value"`

	// Random
	Randomize   bool     `yaml:"randomize"`
	Fluctuation *float64 `yaml:"fluctuation"`

	// Accumulator
	Accumulate bool   `yaml:"accumulate"`
	Source     string `yaml:"source"`

	// Expression
	Expression string `yaml:"expression"`

	// Writable
	Writable     bool     `yaml:"writable"`
	VariableName string   `yaml:"variable_name"`
	MinValue     *float64 `yaml:"min_value"`
	MaxValue     *float64 `yaml:"max_value"`
}

// Load reads and parses a YAML configuration file.
// Unknown fields are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}
