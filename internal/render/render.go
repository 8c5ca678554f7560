package render

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/kennel/internal/model"
)

// ErrTemplateNotFound is returned when a template key has no active template.
var ErrTemplateNotFound = errors.New("template not found")

// Rendered is a template with its placeholders substituted.
type Rendered struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Template model.Category `json:"template_category"`
}

// TemplateSource looks up a template by key. It returns nil, nil when the key
// does not exist.
type TemplateSource interface {
	GetTemplate(ctx context.Context, key string) (*model.NotificationTemplate, error)
}

type Resolver struct {
	source TemplateSource
}

func NewResolver(source TemplateSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve renders the active template for key. Missing variables become "".
func (r *Resolver) Resolve(ctx context.Context, key string, vars map[string]string) (Rendered, error) {
	tmpl, err := r.source.GetTemplate(ctx, key)
	if err != nil {
		return Rendered{}, fmt.Errorf("lookup template %q: %w", key, err)
	}
	if tmpl == nil || !tmpl.IsActive {
		return Rendered{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, key)
	}
	return Rendered{
		Title:    Render(tmpl.TitlePattern, vars),
		Body:     Render(tmpl.BodyPattern, vars),
		Template: tmpl.Category,
	}, nil
}

// Exists reports whether key names an active template.
func (r *Resolver) Exists(ctx context.Context, key string) (bool, error) {
	tmpl, err := r.source.GetTemplate(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lookup template %q: %w", key, err)
	}
	return tmpl != nil && tmpl.IsActive, nil
}

// Render replaces every {name} in pattern with vars[name]. An unterminated
// brace is copied through unchanged.
func Render(pattern string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	rest := pattern
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		name := rest[open+1 : open+1+end]
		b.WriteString(vars[name])
		rest = rest[open+1+end+1:]
	}
	return b.String()
}
