// Package group implements Finding Groups: ordered, non-empty collections of
// findings that share a grouping-key value.
//
// The first member is the representative. Name, severity, producer, method
// and the example location are read from it, and the grouping-key value of
// the group is the representative's attribute. Aggregate views (locations,
// URLs, request ids) are deduplicated unions over all members.
//
// A group's stable identity is the SHA256 of its members' unique ids
// concatenated in insertion order. It is the persistence key and the
// equality relation between groups, so a group re-hydrated from storage
// compares equal to the in-memory group that produced it. Identity depends
// on insertion order; members must never be re-sorted.
package group

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zero-day-ai/aggregator/class"
	"github.com/zero-day-ai/aggregator/finding"
)

// Group is a Finding Group. All methods are safe for concurrent use; appends
// are serialized by the group and readers always see a consistent member list.
type Group struct {
	mu      sync.RWMutex
	members []*finding.Finding

	groupingKey string
	template    string
}

// Option configures a Group built by New.
type Option func(*Group)

// WithGroupingKey sets the attribute name the group is keyed on.
func WithGroupingKey(key string) Option {
	return func(g *Group) {
		g.groupingKey = key
	}
}

// WithTemplate sets the description template.
func WithTemplate(tmpl string) Option {
	return func(g *Group) {
		g.template = tmpl
	}
}

// ForClass copies the grouping key and template from a class definition.
func ForClass(c class.Class) Option {
	return func(g *Group) {
		g.groupingKey = c.GroupingKey
		g.template = c.Template
	}
}

// New creates a group from an ordered, non-empty list of findings.
//
// Returns finding.ErrEmptyGroup when findings is empty and
// finding.ErrTypeMismatch when an element is nil or fails validation.
func New(findings []*finding.Finding, opts ...Option) (*Group, error) {
	if len(findings) == 0 {
		return nil, finding.NewValidationError("group.New", finding.ErrEmptyGroup)
	}

	for i, f := range findings {
		if err := checkMember(f); err != nil {
			return nil, finding.NewValidationError("group.New", err).
				WithContext(map[string]any{"index": i})
		}
	}

	g := &Group{members: make([]*finding.Finding, len(findings))}
	copy(g.members, findings)
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// checkMember is the typed-slice analogue of rejecting non-Finding elements.
func checkMember(f *finding.Finding) error {
	if f == nil {
		return finding.ErrTypeMismatch
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", finding.ErrTypeMismatch, err)
	}
	return nil
}

// Append adds f to the end of the member list. The grouping-key value is
// not re-checked; the aggregation store does that before appending.
func (g *Group) Append(f *finding.Finding) error {
	if err := checkMember(f); err != nil {
		return finding.NewValidationError("Group.Append", err)
	}

	g.mu.Lock()
	g.members = append(g.members, f)
	g.mu.Unlock()
	return nil
}

// Extend appends fs in order. Every finding is checked before any is added,
// so a rejected batch leaves the group unchanged.
func (g *Group) Extend(fs ...*finding.Finding) error {
	for i, f := range fs {
		if err := checkMember(f); err != nil {
			return finding.NewValidationError("Group.Extend", err).
				WithContext(map[string]any{"index": i})
		}
	}
	if len(fs) == 0 {
		return nil
	}

	g.mu.Lock()
	g.members = append(g.members, fs...)
	g.mu.Unlock()
	return nil
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Members returns a copy of the member list in insertion order.
func (g *Group) Members() []*finding.Finding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*finding.Finding, len(g.members))
	copy(out, g.members)
	return out
}

// Representative returns the first member.
func (g *Group) Representative() *finding.Finding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.members[0]
}

// GroupingKey returns the attribute name this group is keyed on.
func (g *Group) GroupingKey() string {
	return g.groupingKey
}

// Template returns the configured description template, if any.
func (g *Group) Template() string {
	return g.template
}

// Name returns the representative's name.
func (g *Group) Name() string { return g.Representative().Name }

// Severity returns the representative's severity.
func (g *Group) Severity() finding.Severity { return g.Representative().Severity }

// Producer returns the plugin that produced the representative.
func (g *Group) Producer() string { return g.Representative().Producer }

// Class returns the representative's finding class.
func (g *Group) Class() string { return g.Representative().Class }

// Method returns the representative's HTTP method.
func (g *Group) Method() string { return g.Representative().Location.Method }

// Location returns one example location, the representative's. Use
// Locations for the complete list.
func (g *Group) Location() finding.Location { return g.Representative().Location }

// Attribute returns the representative's value for name.
func (g *Group) Attribute(name string) (finding.Value, bool) {
	return g.Representative().Attribute(name)
}

// Matches reports whether f belongs in this group: f's value for key equals
// the representative's value for key. A finding or representative lacking
// the attribute never matches.
//
// Returns finding.ErrMissingGroupingKey when key is empty.
func (g *Group) Matches(f *finding.Finding, key string) (bool, error) {
	if key == "" {
		return false, finding.NewConfigurationError("Group.Matches", finding.ErrMissingGroupingKey)
	}
	if f == nil {
		return false, nil
	}

	want, ok := g.Attribute(key)
	if !ok {
		return false, nil
	}
	got, ok := f.Attribute(key)
	if !ok {
		return false, nil
	}
	return want.Equal(got), nil
}

// Locations returns the deduplicated member locations in first-seen order.
func (g *Group) Locations() []finding.Location {
	members := g.Members()
	seen := make(map[finding.Location]struct{}, len(members))
	out := make([]finding.Location, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m.Location]; dup {
			continue
		}
		seen[m.Location] = struct{}{}
		out = append(out, m.Location)
	}
	return out
}

// URLs returns the deduplicated member URLs (URIs without query string).
func (g *Group) URLs() []string {
	return uniqueStrings(g.Members(), func(f *finding.Finding) string { return f.Location.URL() })
}

// URIs returns the deduplicated member URIs.
func (g *Group) URIs() []string {
	return uniqueStrings(g.Members(), func(f *finding.Finding) string { return f.Location.URI })
}

// IDs returns the union of all member request ids in first-seen order.
func (g *Group) IDs() []int {
	members := g.Members()
	seen := make(map[int]struct{})
	var out []int
	for _, m := range members {
		for _, id := range m.IDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// StableIdentity hashes the concatenated member unique ids in insertion
// order. It is recomputed on every call so it always reflects the current
// membership.
func (g *Group) StableIdentity() string {
	return identityOf(g.Members())
}

func identityOf(members []*finding.Finding) string {
	var sb strings.Builder
	for _, m := range members {
		sb.WriteString(m.UniqueID)
	}
	return finding.Hash(sb.String())
}

// Equal reports whether both groups have the same stable identity.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.StableIdentity() == other.StableIdentity()
}

// String returns a short debugging form.
func (g *Group) String() string {
	return fmt.Sprintf("<finding group for %q - len: %d>", g.Name(), g.Len())
}

func uniqueStrings(members []*finding.Finding, field func(*finding.Finding) string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		v := field(m)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
