package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/pders01/fwrdsync/internal/config"
	"github.com/pders01/fwrdsync/internal/storage"
)

// ArticleRenderer turns articles into terminal markdown. The glamour
// renderer is rebuilt only when the wrap width moves noticeably.
type ArticleRenderer struct {
	cfg   config.ArticleConfig
	style string

	renderer *glamour.TermRenderer
	width    int
}

// NewArticleRenderer uses glamour's auto style unless style names a
// standard one such as "dark" or "notty".
func NewArticleRenderer(cfg config.ArticleConfig, style string) *ArticleRenderer {
	if cfg.WordWrapMaxWidth <= 0 {
		cfg.WordWrapMaxWidth = 120
	}
	if cfg.WordWrapMinWidth <= 0 {
		cfg.WordWrapMinWidth = 40
	}
	return &ArticleRenderer{cfg: cfg, style: style}
}

func (ar *ArticleRenderer) wrapWidth(termWidth int) int {
	w := (termWidth * 9) / 10
	if w > ar.cfg.WordWrapMaxWidth {
		w = ar.cfg.WordWrapMaxWidth
	}
	if w < ar.cfg.WordWrapMinWidth {
		w = ar.cfg.WordWrapMinWidth
	}
	if termWidth > 0 && termWidth < 50 {
		w = max(termWidth-4, 20)
	}
	return w
}

func (ar *ArticleRenderer) getRenderer(termWidth int) (*glamour.TermRenderer, error) {
	w := ar.wrapWidth(termWidth)
	if ar.renderer != nil && abs(ar.width-w) <= 10 {
		return ar.renderer, nil
	}
	styleOpt := glamour.WithAutoStyle()
	if ar.style != "" {
		styleOpt = glamour.WithStandardStyle(ar.style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(w))
	if err != nil {
		return nil, err
	}
	ar.renderer = r
	ar.width = w
	return r, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Render formats the article for a terminal termWidth columns wide. feed
// and status may be nil.
func (ar *ArticleRenderer) Render(a *storage.Article, feed *storage.Feed, status *storage.ArticleStatus, termWidth int) (string, error) {
	r, err := ar.getRenderer(termWidth)
	if err != nil {
		return "", wrapErr("initializing renderer", err)
	}
	out, err := r.Render(ArticleMarkdown(a, feed, status))
	if err != nil {
		return "", wrapErr("rendering article "+a.ID, err)
	}
	return out, nil
}

// ArticleMarkdown is the markdown source Render draws.
func ArticleMarkdown(a *storage.Article, feed *storage.Feed, status *storage.ArticleStatus) string {
	var content strings.Builder
	fmt.Fprintf(&content, "# %s\n\n", a.Title)

	var meta []string
	if feed != nil {
		meta = append(meta, feed.DisplayName())
	}
	if !a.Published.IsZero() {
		meta = append(meta, "Published: "+a.Published.Format(time.RFC1123))
	}
	if status != nil {
		if status.Read {
			meta = append(meta, "read")
		} else {
			meta = append(meta, "unread")
		}
		if status.Starred {
			meta = append(meta, "★ starred")
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(&content, "*%s*\n\n", strings.Join(meta, " · "))
	}

	if a.URL != "" {
		fmt.Fprintf(&content, "[Read Online](%s)\n\n", a.URL)
	}

	if len(a.MediaURLs) > 0 {
		content.WriteString("**Media:**\n")
		for _, url := range a.MediaURLs {
			fmt.Fprintf(&content, "- %s\n", url)
		}
		content.WriteString("\n")
	}

	content.WriteString("---\n\n")

	if a.Content != "" {
		content.WriteString(a.Content)
	} else {
		content.WriteString(a.Description)
	}
	return content.String()
}

// wrapErr formats an error with a contextual prefix.
func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
