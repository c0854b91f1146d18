package group

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/render"
)

func TestDescriptionWithoutTemplate(t *testing.T) {
	rep := newFinding(t, "https://a/", "foo.com", 7)
	g, err := New([]*finding.Finding{rep, newFinding(t, "https://b/", "foo.com", 8)})
	require.NoError(t, err)

	got, err := g.Description(render.New(), false)
	require.NoError(t, err)
	assert.Equal(t, rep.Description, got)

	got, err = g.Description(nil, true)
	require.NoError(t, err)
	assert.Equal(t, rep.Describe(true), got, "only the representative ids are used without a template")
}

func TestDescriptionWithTemplate(t *testing.T) {
	members := []*finding.Finding{
		newFinding(t, "https://a/one", "foo.com", 1),
		newFinding(t, "https://a/one", "foo.com", 2),
		newFinding(t, "https://a/two", "foo.com", 3),
	}
	g, err := New(members, WithTemplate("{{ .name }}: {{ .urls | length }} urls"))
	require.NoError(t, err)

	got, err := g.Description(render.New(), false)
	require.NoError(t, err)
	assert.Contains(t, got, "2 urls")
	assert.Equal(t, "Cross-domain javascript source: 2 urls", got)

	withIDs, err := g.Description(render.New(), true)
	require.NoError(t, err)
	assert.Equal(t, "Cross-domain javascript source: 2 urls This information was found in the requests with ids 1, 2 and 3.", withIDs)
}

func TestDescriptionTemplateUsesAttributes(t *testing.T) {
	g, err := New(
		[]*finding.Finding{newFinding(t, "https://a/", "foo.com")},
		WithTemplate(`
			The application includes javascript from {{ .domain }}
			({{ .severity }}, {{ .plugin }}, {{ .method }}).
		`),
	)
	require.NoError(t, err)

	got, err := g.Description(nil, false)
	require.NoError(t, err)
	assert.Contains(t, got, "\nThe application includes javascript from foo.com\n(low, cross_domain_js, GET).\n")
}

func TestDescriptionRenderFailureFallsBack(t *testing.T) {
	rep := newFinding(t, "https://a/", "foo.com")
	g, err := New([]*finding.Finding{rep}, WithTemplate("{{ .undefined_key }}"))
	require.NoError(t, err)

	got, err := g.Description(render.New(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, finding.ErrTemplateRender))
	assert.Equal(t, rep.Description, got)
}

type failingRenderer struct{}

func (failingRenderer) Render(string, map[string]any) (string, error) {
	return "", errors.New("boom")
}

func TestDescriptionForeignRendererError(t *testing.T) {
	rep := newFinding(t, "https://a/", "foo.com")
	g, err := New([]*finding.Finding{rep}, WithTemplate("{{ .name }}"))
	require.NoError(t, err)

	got, err := g.Description(failingRenderer{}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, finding.ErrTemplateRender))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, rep.Description, got)
}

func TestTemplateContext(t *testing.T) {
	f := newFinding(t, "https://a/x?q=1", "foo.com", 5)
	f.Attributes.Set("name", finding.String("attribute wins"))
	g, err := New([]*finding.Finding{f})
	require.NoError(t, err)

	ctx := g.TemplateContext()
	assert.Equal(t, []string{"https://a/x"}, ctx["urls"])
	assert.Equal(t, []string{"https://a/x?q=1"}, ctx["uris"])
	assert.Equal(t, []string{"GET https://a/x?q=1"}, ctx["locations"])
	assert.Equal(t, []int{5}, ctx["id"])
	assert.Equal(t, g.StableIdentity(), ctx["identity"])
	assert.Equal(t, "low", ctx["severity"])
	assert.Equal(t, "foo.com", ctx["domain"])
	assert.Equal(t, "attribute wins", ctx["name"])
}
