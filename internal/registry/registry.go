// Package registry describes the installable components of the product and the
// features they carry.
package registry

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/makkenzo/license-engine/internal/domain/license"
	"gopkg.in/yaml.v3"
)

// Feature is a concrete feature a component provides.
type Feature struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

type Component struct {
	Name     string    `yaml:"name" json:"name" binding:"required"`
	Version  string    `yaml:"version" json:"version"`
	Features []Feature `yaml:"features" json:"features"`
	Licensed bool      `yaml:"licensed" json:"licensed"`
}

// Covers reports whether f is compatible with the component itself or with one
// of its sub-features.
func (c Component) Covers(f license.FeatureID) bool {
	if f.Compatible(c.Name, c.Version) {
		return true
	}
	return slices.ContainsFunc(c.Features, func(sub Feature) bool {
		return f.Compatible(sub.Name, sub.Version)
	})
}

type Registry interface {
	Lookup(name string) (Component, bool)
	// Licensable lists every component that requires a license.
	Licensable() []Component
}

// Memory is a Registry backed by a map. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	components map[string]Component
}

var _ Registry = (*Memory)(nil)

func NewMemory(components ...Component) *Memory {
	m := &Memory{components: make(map[string]Component, len(components))}
	for _, c := range components {
		m.components[c.Name] = c
	}
	return m
}

// Register adds c, replacing any component with the same name.
func (m *Memory) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.Name] = c
}

func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

func (m *Memory) Lookup(name string) (Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	return c, ok
}

func (m *Memory) Licensable() []Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Component
	for _, c := range m.components {
		if c.Licensed {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Component) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (m *Memory) All() []Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Component, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Component) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

type file struct {
	Components []Component `yaml:"components"`
}

func Load(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature registry: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Memory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse feature registry: %w", err)
	}
	seen := make(map[string]bool, len(f.Components))
	for i, c := range f.Components {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("feature registry entry %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("feature registry lists component %q twice", name)
		}
		seen[name] = true
		f.Components[i].Name = name
	}
	return NewMemory(f.Components...), nil
}
