// Package catalog holds the closed sets of projects and property types that
// extracted listings are resolved against.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type Catalog struct {
	Projects      []Entry `yaml:"projects" json:"projects"`
	PropertyTypes []Entry `yaml:"property_types" json:"property_types"`
}

func Parse(data []byte) (Catalog, error) {
	var parsed Catalog
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	projects, err := normalizeEntries("project", parsed.Projects)
	if err != nil {
		return Catalog{}, err
	}
	propertyTypes, err := normalizeEntries("property type", parsed.PropertyTypes)
	if err != nil {
		return Catalog{}, err
	}
	return Catalog{Projects: projects, PropertyTypes: propertyTypes}, nil
}

// Load reads a catalog file. A missing file yields an empty catalog.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func normalizeEntries(kind string, entries []Entry) ([]Entry, error) {
	seen := map[string]struct{}{}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.ID == "" {
			return nil, fmt.Errorf("%s entry without id", kind)
		}
		if _, ok := seen[entry.ID]; ok {
			return nil, fmt.Errorf("duplicate %s id %q", kind, entry.ID)
		}
		seen[entry.ID] = struct{}{}
		if entry.Name == "" {
			entry.Name = entry.ID
		}
		aliases := entry.Aliases[:0]
		for _, alias := range entry.Aliases {
			if alias = strings.TrimSpace(alias); alias != "" {
				aliases = append(aliases, alias)
			}
		}
		entry.Aliases = aliases
		out = append(out, entry)
	}
	return out, nil
}

func (c Catalog) HasProject(id string) bool {
	return hasID(c.Projects, id)
}

func (c Catalog) HasPropertyType(id string) bool {
	return hasID(c.PropertyTypes, id)
}

func (c Catalog) ProjectIDs() []string {
	return ids(c.Projects)
}

func (c Catalog) PropertyTypeIDs() []string {
	return ids(c.PropertyTypes)
}

// ResolveProject maps a human-readable project name to its identifier.
func (c Catalog) ResolveProject(name string) (string, bool) {
	return resolve(c.Projects, name)
}

// ResolvePropertyType maps a human-readable property type name to its
// identifier: exact id or name first, then a case-insensitive substring
// match in catalog order.
func (c Catalog) ResolvePropertyType(name string) (string, bool) {
	return resolve(c.PropertyTypes, name)
}

// Knowledge renders the closed enumerations as prompt context.
func (c Catalog) Knowledge() string {
	var builder strings.Builder
	writeSection := func(title string, entries []Entry) {
		builder.WriteString(title)
		builder.WriteString(":\n")
		if len(entries) == 0 {
			builder.WriteString("- (none configured)\n")
			return
		}
		for _, entry := range entries {
			builder.WriteString("- ")
			builder.WriteString(entry.ID)
			builder.WriteString(": ")
			builder.WriteString(entry.Name)
			if len(entry.Aliases) > 0 {
				builder.WriteString(" (also: ")
				builder.WriteString(strings.Join(entry.Aliases, ", "))
				builder.WriteString(")")
			}
			builder.WriteString("\n")
		}
	}
	writeSection("Projects", c.Projects)
	writeSection("Property types", c.PropertyTypes)
	return builder.String()
}

func hasID(entries []Entry, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, entry := range entries {
		if entry.ID == id {
			return true
		}
	}
	return false
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ID)
	}
	sort.Strings(out)
	return out
}

func resolve(entries []Entry, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, entry := range entries {
		if entry.ID == name || entry.Name == name {
			return entry.ID, true
		}
		for _, alias := range entry.Aliases {
			if alias == name {
				return entry.ID, true
			}
		}
	}
	needle := strings.ToLower(name)
	for _, entry := range entries {
		for _, candidate := range append([]string{entry.ID, entry.Name}, entry.Aliases...) {
			candidate = strings.ToLower(candidate)
			if strings.Contains(candidate, needle) || strings.Contains(needle, candidate) {
				return entry.ID, true
			}
		}
	}
	return "", false
}

// Holder keeps the current catalog and swaps it on reload.
type Holder struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Catalog
}

func NewHolder(path string, logger *slog.Logger) (*Holder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	holder := &Holder{path: strings.TrimSpace(path), logger: logger}
	if err := holder.Reload(); err != nil {
		return nil, err
	}
	return holder, nil
}

// NewStaticHolder wraps a fixed catalog, mostly for tests and one-shot commands.
func NewStaticHolder(current Catalog) *Holder {
	return &Holder{current: current, logger: slog.Default()}
}

func (h *Holder) Path() string {
	return h.path
}

func (h *Holder) Current() Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the catalog file. On a parse failure the previous
// catalog stays active.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error("catalog reload failed", "path", h.path, "error", err)
		return err
	}
	h.mu.Lock()
	h.current = next
	h.mu.Unlock()
	h.logger.Info("catalog loaded", "path", h.path, "projects", len(next.Projects), "property_types", len(next.PropertyTypes))
	return nil
}
