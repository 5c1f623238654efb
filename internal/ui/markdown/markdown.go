// Package markdown renders algorithm descriptions for the terminal.
package markdown

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/zjrosen/sortpool/internal/cachemanager"
)

// renderTTL bounds how long a rendered document stays cached.
const renderTTL = 30 * time.Minute

// noMarginStyle removes document margins on top of the chosen base style.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

type cacheKey string

type renderInput struct {
	text  string
	width int
}

// Renderer wraps glamour with a cache of rendered documents.
type Renderer struct {
	style string
	cache *cachemanager.ReadThroughCache[cacheKey, string, renderInput]
}

// New creates a renderer for a glamour standard style ("dark", "light", "notty").
func New(style string) *Renderer {
	r := &Renderer{style: style}
	store := cachemanager.NewInMemoryCacheManager[cacheKey, string](
		"markdown", renderTTL, cachemanager.DefaultCleanupInterval)
	r.cache = cachemanager.NewReadThroughCache(store, r.render, false)
	return r
}

// Style returns the glamour style name.
func (r *Renderer) Style() string {
	return r.style
}

// Render transforms markdown to styled terminal output wrapped at width.
func (r *Renderer) Render(ctx context.Context, text string, width int) (string, error) {
	in := renderInput{text: text, width: width}
	return r.cache.Get(ctx, r.key(in), in, renderTTL)
}

func (r *Renderer) key(in renderInput) cacheKey {
	h := fnv.New64a()
	_, _ = h.Write([]byte(in.text))
	return cacheKey(fmt.Sprintf("%s/%d/%x", r.style, in.width, h.Sum64()))
}

func (r *Renderer) render(_ context.Context, in renderInput) (string, error) {
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(in.width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := tr.Render(in.text)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}
