// Package render turns finding-class description templates into text.
//
// Templates use Go text/template syntax with the context map as dot, so a
// context key is written {{ .name }}. Rendering is strict: a template that
// references a key missing from the context fails instead of printing an
// empty value. Common leading indentation is removed before parsing, so
// templates can be indented inside YAML or Go source.
//
// Jinja-style templates are not accepted. {{ name }} and {{ urls|length }}
// name undefined functions and fail to parse with finding.ErrTemplateRender;
// write {{ .name }} and {{ .urls | length }} instead.
//
//	r := render.New()
//	text, err := r.Render(`
//	    {{ .name }} was found at {{ .urls | length }} URLs:
//	    {{ join .urls ", " }}
//	`, map[string]any{"name": "XSS", "urls": []string{"a", "b"}})
package render

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"text/template"

	"github.com/lithammer/dedent"

	"github.com/zero-day-ai/aggregator/finding"
)

// Renderer renders description templates. It holds no per-call state; the
// only shared data is a cache of parsed templates keyed by their source.
// A Renderer is safe for concurrent use.
type Renderer struct {
	cache sync.Map // source -> *template.Template
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render dedents tmpl, parses it and executes it against ctx.
// Parse and execution failures wrap finding.ErrTemplateRender.
func (r *Renderer) Render(tmpl string, ctx map[string]any) (string, error) {
	t, err := r.parse(tmpl)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := t.Execute(&sb, ctx); err != nil {
		return "", finding.NewRenderError("Renderer.Render", fmt.Errorf("%w: %v", finding.ErrTemplateRender, err))
	}
	return sb.String(), nil
}

func (r *Renderer) parse(tmpl string) (*template.Template, error) {
	if cached, ok := r.cache.Load(tmpl); ok {
		return cached.(*template.Template), nil
	}

	t, err := template.New("description").
		Option("missingkey=error").
		Funcs(funcs).
		Parse(dedent.Dedent(tmpl))
	if err != nil {
		return nil, finding.NewRenderError("Renderer.Render", fmt.Errorf("%w: %v", finding.ErrTemplateRender, err))
	}

	actual, _ := r.cache.LoadOrStore(tmpl, t)
	return actual.(*template.Template), nil
}

var funcs = template.FuncMap{
	"length": length,
	"join":   join,
	"upper":  strings.ToUpper,
	"lower":  strings.ToLower,
}

// length returns the length of a string, slice, array or map.
func length(v any) (int, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	default:
		return 0, fmt.Errorf("length of %T is undefined", v)
	}
}

// join concatenates list items with sep.
func join(items []string, sep string) string {
	return strings.Join(items, sep)
}
