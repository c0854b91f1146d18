package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/group"
)

func newGroup(t *testing.T, severity finding.Severity, domain string, uris ...string) *group.Group {
	t.Helper()
	members := make([]*finding.Finding, 0, len(uris))
	for _, uri := range uris {
		members = append(members, finding.NewFinding(
			"cross_domain_js",
			"cross_domain_js",
			"Cross-domain javascript source",
			"javascript from "+domain,
			severity,
			finding.NewLocation("GET", uri),
			finding.WithAttribute("domain", finding.String(domain)),
			finding.WithAttribute("external", finding.Bool(true)),
			finding.WithAttribute("score", finding.Number(7.5)),
		))
	}
	g, err := group.New(members)
	require.NoError(t, err)
	return g
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"severity", `severity_rank >= 3`, ""},
		{"list macro", `urls.exists(u, u.startsWith("https://admin."))`, ""},
		{"attributes", `attributes.domain == "foo.com" && attributes.external`, ""},
		{"syntax error", `severity ==`, "compile filter"},
		{"unknown variable", `owner == "me"`, "compile filter"},
		{"not a bool", `count + 1`, "must evaluate to bool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.String())
		})
	}

	assert.Panics(t, func() { MustCompile("count +") })
}

func TestMatch(t *testing.T) {
	g := newGroup(t, finding.SeverityHigh, "foo.com", "https://admin.t/a?x=1", "https://admin.t/a?x=2", "https://t/b")

	tests := []struct {
		expr string
		want bool
	}{
		{`severity == "high" && severity_rank == 4`, true},
		{`count == 3 && size(urls) == 2`, true},
		{`urls.exists(u, u.startsWith("https://admin."))`, true},
		{`attributes.domain == "foo.com"`, true},
		{`attributes.external && attributes.score > 7.0`, true},
		{`producer == "cross_domain_js" && class == "cross_domain_js"`, true},
		{`name.contains("javascript")`, true},
		{`identity.size() == 64`, true},
		{`severity_rank >= 5`, false},
		{`"parameter" in attributes`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := MustCompile(tt.expr).Match(g)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing attribute is an evaluation error", func(t *testing.T) {
		_, err := MustCompile(`attributes.parameter == "id"`).Match(g)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "evaluate filter")
	})
}

func TestApply(t *testing.T) {
	low := newGroup(t, finding.SeverityLow, "a.com", "https://t/1")
	high := newGroup(t, finding.SeverityHigh, "b.com", "https://t/2", "https://t/3")
	critical := newGroup(t, finding.SeverityCritical, "c.com", "https://t/4")

	got, err := MustCompile(`severity_rank >= 4`).Apply([]*group.Group{low, high, critical})
	require.NoError(t, err)
	assert.Equal(t, []*group.Group{high, critical}, got)

	got, err = MustCompile(`count > 5`).Apply([]*group.Group{low, high})
	require.NoError(t, err)
	assert.Empty(t, got)
}
