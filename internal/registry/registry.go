// Package registry loads the operation registries that describe what a tool
// can do. A registry is looked up by tool key in <app-dir>/registries and
// falls back to the registries compiled into the binary.
package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"vimani/internal/errs"
	"vimani/internal/model"
)

//go:embed registries/*.json
var builtin embed.FS

// ErrNotFound is returned when no registry exists for a tool key.
var ErrNotFound = errors.New("registry not found")

var toolKeyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Operation is a single callable operation of a tool.
type Operation struct {
	OpID        string         `json:"op_id" yaml:"op_id"`
	Description string         `json:"description,omitempty" yaml:"description"`
	InputSchema map[string]any `json:"input_schema" yaml:"input_schema"`
}

// Registry lists the operations of one tool.
type Registry struct {
	ToolKey    string      `json:"tool_key" yaml:"tool_key"`
	Version    string      `json:"version" yaml:"version"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Operation looks up an operation by id.
func (r *Registry) Operation(opID string) (Operation, bool) {
	for _, op := range r.Operations {
		if op.OpID == opID {
			return op, true
		}
	}
	return Operation{}, false
}

// Loader resolves registries by tool key and caches them.
type Loader struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Registry
}

// NewLoader returns a loader reading <appDir>/registries.
func NewLoader(appDir string) *Loader {
	return &Loader{
		dir:   filepath.Join(appDir, "registries"),
		cache: map[string]*Registry{},
	}
}

// Dir is the directory searched before the built-in registries.
func (l *Loader) Dir() string { return l.dir }

// Load returns the registry for toolKey.
func (l *Loader) Load(toolKey string) (*Registry, error) {
	if !toolKeyPattern.MatchString(toolKey) {
		return nil, notFound(toolKey, fmt.Errorf("%w: invalid tool key %q", ErrNotFound, toolKey))
	}

	l.mu.RLock()
	reg, ok := l.cache[toolKey]
	l.mu.RUnlock()
	if ok {
		return reg, nil
	}

	reg, err := l.read(toolKey)
	if err != nil {
		return nil, notFound(toolKey, err)
	}

	l.mu.Lock()
	l.cache[toolKey] = reg
	l.mu.Unlock()
	return reg, nil
}

// Reload drops cached registries so the next Load rereads them.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.cache = map[string]*Registry{}
	l.mu.Unlock()
}

func (l *Loader) read(toolKey string) (*Registry, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(l.dir, toolKey+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return Parse(data, ext, toolKey)
	}

	data, err := builtin.ReadFile("registries/" + toolKey + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, toolKey, l.dir)
	}
	return Parse(data, ".json", toolKey)
}

// Parse decodes a registry document. ext selects JSON or YAML.
func Parse(data []byte, ext, toolKey string) (*Registry, error) {
	var reg Registry
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &reg); err != nil {
			return nil, fmt.Errorf("decode registry %s: %w", toolKey, err)
		}
		for i := range reg.Operations {
			reg.Operations[i].InputSchema = normalizeYAML(reg.Operations[i].InputSchema)
		}
	default:
		if err := json.Unmarshal(data, &reg); err != nil {
			return nil, fmt.Errorf("decode registry %s: %w", toolKey, err)
		}
	}
	if reg.ToolKey == "" {
		reg.ToolKey = toolKey
	}
	for i, op := range reg.Operations {
		if op.OpID == "" {
			return nil, fmt.Errorf("registry %s: operation %d has no op_id", toolKey, i)
		}
		if op.InputSchema == nil {
			reg.Operations[i].InputSchema = map[string]any{}
		}
	}
	return &reg, nil
}

// normalizeYAML turns yaml's int values into float64 so schemas decoded from
// YAML look like their JSON equivalents.
func normalizeYAML(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAML(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case int:
		return float64(t)
	default:
		return v
	}
}

func notFound(toolKey string, err error) error {
	return errs.Wrap(err, model.SourceOrchestrator, errs.CodeRegistryNotFound,
		fmt.Sprintf("Registry not found for tool_key '%s'", toolKey))
}
