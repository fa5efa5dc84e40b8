package core

import (
	"path/filepath"
	"strings"
)

// Policy enforces the plugin allowlist and the forbidden path prefixes
// parsed from comma-separated env vars.
type Policy struct {
	allowedPlugins        map[string]bool
	forbiddenPathPrefixes []string
}

// NewPolicy creates a Policy from a comma-separated plugin allowlist.
// An empty allowlist allows every plugin.
func NewPolicy(pluginCSV string) *Policy {
	return &Policy{
		allowedPlugins:        parseCSV(pluginCSV),
		forbiddenPathPrefixes: make([]string, 0),
	}
}

func (p *Policy) SetPathPolicy(forbiddenCSV string) {
	p.forbiddenPathPrefixes = parsePrefixesCSV(forbiddenCSV)
}

// CheckPlugin returns an error if name is not in a non-empty allowlist.
func (p *Policy) CheckPlugin(name string) error {
	if len(p.allowedPlugins) == 0 || p.allowedPlugins[name] {
		return nil
	}
	return &PolicyViolation{Code: ViolationPluginNotAllowed, Subject: name, Reason: "not in PLUGIN_ALLOWLIST"}
}

// CheckPath returns an error if path is empty or falls under a forbidden
// prefix once made absolute.
func (p *Policy) CheckPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return &PolicyViolation{Code: ViolationPathEmpty, Subject: path, Reason: "path is empty"}
	}
	abs := absPath(path)
	for _, prefix := range p.forbiddenPathPrefixes {
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			return &PolicyViolation{Code: ViolationPathForbidden, Subject: path, Reason: "under forbidden prefix " + prefix}
		}
	}
	return nil
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}

func parsePrefixesCSV(s string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, absPath(item))
		}
	}
	return out
}

func absPath(s string) string {
	s = filepath.Clean(strings.TrimSpace(s))
	if abs, err := filepath.Abs(s); err == nil {
		return abs
	}
	return s
}
