// Package class holds finding-class definitions: the grouping key each class
// aggregates on, the optional description template and the documented set of
// attribute keys its findings carry.
//
// Definitions are collected into a Registry once, when detection logic is
// registered, and the Registry is handed to the aggregation store by
// reference. A Registry is never mutated after construction.
package class

import (
	"fmt"
	"sort"
	"strings"
)

// Class describes one finding class.
type Class struct {
	// Name is the finding-class name carried by Finding.Class.
	Name string `yaml:"name"`

	// GroupingKey is the attribute name findings of this class are grouped on.
	// An empty grouping key makes every report for the class fail.
	GroupingKey string `yaml:"grouping_key"`

	// Template is the optional description template for groups of this class.
	Template string `yaml:"template,omitempty"`

	// Attributes lists the well-known attribute keys set by producers of this
	// class. Empty means undocumented.
	Attributes []string `yaml:"attributes,omitempty"`

	// Description is free-form documentation for the class.
	Description string `yaml:"description,omitempty"`
}

// HasTemplate reports whether a description template is configured.
func (c Class) HasTemplate() bool {
	return strings.TrimSpace(c.Template) != ""
}

// Validate checks the class definition. A missing grouping key is allowed
// here and reported when a finding of the class is aggregated.
func (c Class) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("class name is required")
	}
	if c.GroupingKey != "" && len(c.Attributes) > 0 && !contains(c.Attributes, c.GroupingKey) {
		return fmt.Errorf("class %q: grouping key %q is not one of its attributes %v", c.Name, c.GroupingKey, c.Attributes)
	}
	return nil
}

// Registry maps class names to definitions.
type Registry struct {
	classes map[string]Class
}

// NewRegistry builds a Registry from classes, rejecting invalid or duplicate
// definitions.
func NewRegistry(classes ...Class) (*Registry, error) {
	r := &Registry{classes: make(map[string]Class, len(classes))}
	for _, c := range classes {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.classes[c.Name]; exists {
			return nil, fmt.Errorf("class %q is defined more than once", c.Name)
		}
		r.classes[c.Name] = c
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for
// statically known class sets.
func MustRegistry(classes ...Class) *Registry {
	r, err := NewRegistry(classes...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the class with the given name.
func (r *Registry) Lookup(name string) (Class, bool) {
	if r == nil {
		return Class{}, false
	}
	c, ok := r.classes[name]
	return c, ok
}

// GroupingKey returns the grouping key of the named class, or "" when the
// class is unknown or has none.
func (r *Registry) GroupingKey(name string) string {
	c, _ := r.Lookup(name)
	return c.GroupingKey
}

// Names returns the registered class names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.classes)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
