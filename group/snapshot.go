package group

import (
	"fmt"

	"github.com/zero-day-ai/aggregator/finding"
)

// Snapshot is the persisted form of a group.
type Snapshot struct {
	Identity    string             `json:"identity"`
	GroupingKey string             `json:"grouping_key,omitempty"`
	Template    string             `json:"template,omitempty"`
	Findings    []*finding.Finding `json:"findings"`
}

// Snapshot captures the current membership of the group.
func (g *Group) Snapshot() Snapshot {
	members := g.Members()
	return Snapshot{
		Identity:    identityOf(members),
		GroupingKey: g.groupingKey,
		Template:    g.template,
		Findings:    members,
	}
}

// FromSnapshot re-hydrates a group. The recorded identity must match the one
// recomputed from the findings; a mismatch means the snapshot is corrupt.
func FromSnapshot(s Snapshot) (*Group, error) {
	g, err := New(s.Findings, WithGroupingKey(s.GroupingKey), WithTemplate(s.Template))
	if err != nil {
		return nil, err
	}
	if s.Identity != "" {
		if got := g.StableIdentity(); got != s.Identity {
			return nil, finding.NewValidationError("group.FromSnapshot",
				fmt.Errorf("identity mismatch: recorded %s, computed %s", s.Identity, got))
		}
	}
	return g, nil
}
