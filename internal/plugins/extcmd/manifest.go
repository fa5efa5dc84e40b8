// Package extcmd hosts plugins that are external executables. Each plugin
// lives in its own directory under the plugin root with a plugin.json
// manifest declaring its operations and their task schemas.
package extcmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rescuebox/rescuebox/internal/schema"
)

// ManifestFile is the manifest name looked up in every plugin directory.
const ManifestFile = "plugin.json"

// Manifest describes an external plugin and the operations it serves.
type Manifest struct {
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Author     string              `json:"author"`
	Info       string              `json:"info"`
	Executable string              `json:"executable"`
	Operations []OperationManifest `json:"operations"`
}

// OperationManifest declares one operation. The executable is called with
// Rule as its only argument.
type OperationManifest struct {
	Rule       string            `json:"rule"`
	ShortTitle string            `json:"short_title"`
	Order      int               `json:"order"`
	Help       string            `json:"help,omitempty"`
	TaskSchema schema.TaskSchema `json:"task_schema"`
}

// Plugin is a discovered plugin with its resolved location.
type Plugin struct {
	Manifest   Manifest
	Dir        string
	Executable string
}

func (p *Plugin) Metadata() schema.AppMetadata {
	return schema.AppMetadata{
		Name:    p.Manifest.Name,
		Author:  p.Manifest.Author,
		Version: p.Manifest.Version,
		Info:    p.Manifest.Info,
	}
}

// Discover scans dir for plugin directories. A missing dir yields no
// plugins. Manifests that cannot be read or fail validation are logged and
// skipped.
func Discover(dir string, logger *slog.Logger) ([]*Plugin, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat plugin dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin dir %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var plugins []*Plugin
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		p, err := LoadPlugin(pluginDir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.Warn("skip external plugin", "dir", pluginDir, "err", err)
			continue
		}
		if prev, dup := seen[p.Manifest.Name]; dup {
			logger.Warn("skip external plugin", "dir", pluginDir, "err", fmt.Sprintf("name %q already used by %s", p.Manifest.Name, prev))
			continue
		}
		seen[p.Manifest.Name] = pluginDir
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Manifest.Name < plugins[j].Manifest.Name })
	return plugins, nil
}

// LoadPlugin reads and validates the manifest in pluginDir. The returned
// error wraps os.ErrNotExist when the directory has no manifest.
func LoadPlugin(pluginDir string) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ManifestFile, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	exe := filepath.Join(pluginDir, m.Executable)
	rel, err := filepath.Rel(pluginDir, exe)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("executable %q escapes the plugin directory", m.Executable)
	}
	st, err := os.Stat(exe)
	if err != nil {
		return nil, fmt.Errorf("executable: %w", err)
	}
	if st.IsDir() || st.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("executable %s is not an executable file", exe)
	}
	return &Plugin{Manifest: m, Dir: pluginDir, Executable: exe}, nil
}

func (m Manifest) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("manifest name is required")
	}
	if strings.TrimSpace(m.Executable) == "" {
		return errors.New("manifest executable is required")
	}
	if filepath.IsAbs(m.Executable) {
		return fmt.Errorf("executable %q must be relative to the plugin directory", m.Executable)
	}
	if len(m.Operations) == 0 {
		return errors.New("manifest declares no operations")
	}
	return nil
}
