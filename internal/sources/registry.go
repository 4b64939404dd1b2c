// Package sources holds the read-only display metadata for the external tools
// activities originate from.
package sources

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var embeddedRegistry []byte

// ErrInvalidRegistry is returned when registry data cannot be used.
var ErrInvalidRegistry = errors.New("invalid source registry")

// Metadata describes how a source is presented to clients.
type Metadata struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
	Icon  string `yaml:"icon" json:"icon"`
}

// Registry is an immutable lookup table keyed by source identifier. It is
// safe for concurrent use without synchronisation because nothing mutates it
// after construction.
type Registry struct {
	byID map[string]Metadata
}

type registryFile struct {
	Sources []Metadata `yaml:"sources"`
}

// Parse builds a Registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	reg := &Registry{
		byID: make(map[string]Metadata, len(file.Sources)),
	}
	for i, meta := range file.Sources {
		meta.ID = strings.TrimSpace(meta.ID)
		if meta.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidRegistry, i)
		}
		if _, dup := reg.byID[meta.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRegistry, meta.ID)
		}
		reg.byID[meta.ID] = meta
	}
	return reg, nil
}

// LoadFile reads a registry from disk. An empty path yields the embedded registry.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(embeddedRegistry)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source registry: %w", err)
	}
	return Parse(data)
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry compiled into the binary.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Parse(embeddedRegistry)
		if err != nil {
			panic(err)
		}
		defaultReg = reg
	})
	return defaultReg
}

// Lookup returns the metadata for id.
func (r *Registry) Lookup(id string) (Metadata, bool) {
	if r == nil {
		return Metadata{}, false
	}
	meta, ok := r.byID[id]
	return meta, ok
}

// Len reports the number of known sources.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}
