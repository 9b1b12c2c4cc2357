// Package config loads the YAML configuration files that describe the
// liquidity venues and operational guardrails of the execution engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Venue implementation kinds.
const (
	ImplementationMock = "mock"
	ImplementationReal = "real"
)

// venueCount is fixed: the router compares exactly two venues.
const venueCount = 2

// VenuesConfig describes the two liquidity venues the router quotes
// against. Order matters: the first entry wins price ties.
type VenuesConfig struct {
	Venues []VenueConfig `yaml:"venues"`
}

// VenueConfig configures a single venue adapter.
type VenueConfig struct {
	Name             string  `yaml:"name"`               // venue identifier, e.g. raydium
	Implementation   string  `yaml:"implementation"`     // mock or real
	URL              string  `yaml:"url"`                // swap API base URL (real only)
	SigningKey       string  `yaml:"signing_key"`        // request signing key (real only)
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`     // outbound request budget
	RequestTimeoutMS int     `yaml:"request_timeout_ms"` // per-request deadline
	Seed             int64   `yaml:"seed"`               // mock price feed seed, 0 = deterministic
}

// LoadVenuesConfig loads venue configuration from a YAML file. Signing
// keys can be supplied or overridden through the environment so they
// stay out of the file.
func LoadVenuesConfig(configPath string) (*VenuesConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read venues config: %w", err)
	}

	var config VenuesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse venues config: %w", err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid venues config: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides replaces signing keys with values from
// ORDERFLOW_VENUE_<NAME>_SIGNING_KEY when set.
func (c *VenuesConfig) applyEnvOverrides() {
	for i := range c.Venues {
		envKey := "ORDERFLOW_VENUE_" + envName(c.Venues[i].Name) + "_SIGNING_KEY"
		if v := os.Getenv(envKey); v != "" {
			c.Venues[i].SigningKey = v
		}
	}
}

// envName maps a venue name onto the charset allowed in env var names.
func envName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.ToUpper(mapped)
}

// Validate ensures the configuration is valid and consistent.
func (c *VenuesConfig) Validate() error {
	if len(c.Venues) != venueCount {
		return fmt.Errorf("exactly %d venues required, got %d", venueCount, len(c.Venues))
	}

	seen := make(map[string]bool, len(c.Venues))
	for i := range c.Venues {
		v := &c.Venues[i]
		if err := v.Validate(); err != nil {
			return fmt.Errorf("venue %q: %w", v.Name, err)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue name %q", v.Name)
		}
		seen[v.Name] = true
	}

	return nil
}

// Validate ensures a single venue configuration is valid.
func (v *VenueConfig) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	switch v.Implementation {
	case ImplementationMock:
		// Mock venues need no endpoint or credentials.
	case ImplementationReal:
		if v.URL == "" {
			return fmt.Errorf("url cannot be empty for a real venue")
		}
		if v.SigningKey == "" {
			return fmt.Errorf("signing_key cannot be empty for a real venue")
		}
	case "":
		return fmt.Errorf("implementation cannot be empty (mock or real)")
	default:
		return fmt.Errorf("implementation must be mock or real, got %q", v.Implementation)
	}

	if v.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps cannot be negative, got %g", v.RateLimitRPS)
	}
	if v.RequestTimeoutMS < 0 {
		return fmt.Errorf("request_timeout_ms cannot be negative, got %d", v.RequestTimeoutMS)
	}

	return nil
}

// GetRequestTimeout returns the per-request deadline as a time.Duration.
func (v *VenueConfig) GetRequestTimeout() time.Duration {
	return time.Duration(v.RequestTimeoutMS) * time.Millisecond
}

// Names returns the configured venue names in routing order.
func (c *VenuesConfig) Names() []string {
	names := make([]string, len(c.Venues))
	for i, v := range c.Venues {
		names[i] = v.Name
	}
	return names
}
