package group

import (
	"errors"
	"strings"

	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/render"
)

// Renderer renders a template against a context map.
type Renderer interface {
	Render(tmpl string, ctx map[string]any) (string, error)
}

var defaultRenderer = render.New()

// Description returns the user-facing description of the group.
//
// Without a template it is the representative's description. With one, the
// template is rendered against TemplateContext. When withIDs is set, the
// request-id sentence for the relevant ids is appended.
//
// If rendering fails the representative's description is returned together
// with an error wrapping finding.ErrTemplateRender, so callers can report the
// problem and still show something. A nil renderer uses a shared default.
func (g *Group) Description(r Renderer, withIDs bool) (string, error) {
	rep := g.Representative()
	if strings.TrimSpace(g.template) == "" {
		return rep.Describe(withIDs), nil
	}

	if r == nil {
		r = defaultRenderer
	}

	text, err := r.Render(g.template, g.TemplateContext())
	if err != nil {
		if !errors.Is(err, finding.ErrTemplateRender) {
			err = finding.NewRenderError("Group.Description", errors.Join(finding.ErrTemplateRender, err))
		}
		return rep.Describe(withIDs), err
	}

	if withIDs {
		if ids := g.IDs(); len(ids) > 0 {
			summary := &finding.Finding{Description: text, IDs: ids}
			text = summary.Describe(true)
		}
	}
	return text, nil
}

// TemplateContext builds the map description templates render against:
//
//	urls       deduplicated URLs ([]string)
//	uris       deduplicated URIs ([]string)
//	locations  deduplicated "METHOD URI" strings ([]string)
//	id         request ids ([]int)
//	identity   stable identity (string)
//	severity, name, method, plugin, producer, class (string)
//
// The representative's attributes are merged last and win on conflicts.
func (g *Group) TemplateContext() map[string]any {
	rep := g.Representative()

	locations := g.Locations()
	locStrings := make([]string, len(locations))
	for i, l := range locations {
		locStrings[i] = l.String()
	}

	ctx := map[string]any{
		"urls":      g.URLs(),
		"uris":      g.URIs(),
		"locations": locStrings,
		"id":        g.IDs(),
		"identity":  g.StableIdentity(),
		"severity":  rep.Severity.String(),
		"name":      rep.Name,
		"method":    rep.Location.Method,
		"plugin":    rep.Producer,
		"producer":  rep.Producer,
		"class":     rep.Class,
	}
	for k, v := range rep.Attributes.Native() {
		ctx[k] = v
	}
	return ctx
}
