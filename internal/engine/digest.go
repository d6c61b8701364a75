package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deusflow/newsprefs/internal/profile"
)

// ErrNothingToDigest means the user has no live ranked list.
var ErrNothingToDigest = errors.New("nothing to digest")

const digestFocusTags = 3

type DigestItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

type Digest struct {
	UserID      string       `json:"user_id"`
	Role        profile.Role `json:"role"`
	Focus       []string     `json:"focus"`
	Items       []DigestItem `json:"items"`
	Text        string       `json:"text"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Digest summarizes the user's last ranked list. Items keep their ranked
// order; missing summaries come from the oracle or the local fallback.
func (e *Engine) Digest(ctx context.Context, userID string) (Digest, error) {
	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return Digest{}, fmt.Errorf("digest for %s: %w", userID, err)
	}
	list := e.LastShown(userID)
	if len(list) == 0 {
		return Digest{}, fmt.Errorf("digest for %s: %w", userID, ErrNothingToDigest)
	}
	e.summarize(ctx, list)

	d := Digest{
		UserID:      userID,
		Role:        p.Role,
		Focus:       focus(p, digestFocusTags),
		Items:       make([]DigestItem, 0, len(list)),
		GeneratedAt: e.opts.Now().UTC(),
	}
	for _, c := range list {
		d.Items = append(d.Items, DigestItem{
			ID:      c.ID,
			Title:   c.Title,
			URL:     c.URL,
			Source:  c.Source,
			Summary: c.Summary,
		})
	}
	d.Text = d.render()
	return d, nil
}

func focus(p *profile.Profile, n int) []string {
	out := []string{}
	for _, t := range p.SortedTags() {
		if len(out) == n {
			break
		}
		if p.Suppressed(t) {
			continue
		}
		out = append(out, profile.TagText(t))
	}
	return out
}

func (d Digest) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "News digest for %s, %s\n", d.Role, d.GeneratedAt.Format("2006-01-02"))
	if len(d.Focus) > 0 {
		fmt.Fprintf(&b, "Focus: %s\n", strings.Join(d.Focus, ", "))
	}
	for i, it := range d.Items {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, it.Title)
		if it.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", it.Summary)
		}
		if it.URL != "" {
			fmt.Fprintf(&b, "   %s\n", it.URL)
		}
	}
	return b.String()
}
