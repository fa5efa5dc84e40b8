package core

import (
	"fmt"
	"strings"
)

// ProfileDefaults holds environment-specific default configuration values.
// Profiles provide defaults only; explicit env vars always override.
type ProfileDefaults struct {
	Name                        string
	PathPolicyForbiddenPrefixes string
	PluginTimeoutSeconds        int
	StreamThrottleMS            int
	ConcurrencyMode             string
	MaxConcurrentInvocations    int
}

var profiles = map[string]*ProfileDefaults{
	"dev": {
		Name:                        "dev",
		PathPolicyForbiddenPrefixes: "/proc,/sys,/dev",
		PluginTimeoutSeconds:        600,
		StreamThrottleMS:            10,
		ConcurrencyMode:             "isolated",
		MaxConcurrentInvocations:    0,
	},
	"staging": {
		Name:                        "staging",
		PathPolicyForbiddenPrefixes: "/proc,/sys,/dev,/etc",
		PluginTimeoutSeconds:        600,
		StreamThrottleMS:            10,
		ConcurrencyMode:             "isolated",
		MaxConcurrentInvocations:    16,
	},
	"prod": {
		Name:                        "prod",
		PathPolicyForbiddenPrefixes: "/proc,/sys,/dev,/etc,/root",
		PluginTimeoutSeconds:        300,
		StreamThrottleMS:            10,
		ConcurrencyMode:             "isolated",
		MaxConcurrentInvocations:    8,
	},
}

// LoadProfile returns profile defaults for the given name.
// Empty name defaults to "dev". Unknown names return an error.
func LoadProfile(name string) (*ProfileDefaults, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = "dev"
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (valid: dev, staging, prod)", name)
	}
	copy := *p
	return &copy, nil
}
