// Package oracle wraps the external natural-language reasoning service used
// for profile extraction, relevance judgments, feedback interpretation and
// summaries. Every backend is treated as fallible: callers get typed results
// or one of ErrUnavailable / ErrMalformed, never raw provider errors.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
)

var (
	// ErrUnavailable covers transport failures, timeouts and exhausted budgets.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrMalformed means the backend answered but the answer could not be used.
	ErrMalformed = errors.New("oracle response malformed")
)

const (
	MinScore = 1
	MaxScore = 10
)

// Judgment is the oracle's opinion of one candidate for one profile.
type Judgment struct {
	Score       int      `json:"score"`
	Explanation string   `json:"explanation"`
	Topics      []string `json:"topics,omitempty"`
	Summary     string   `json:"summary,omitempty"`
}

type Oracle interface {
	ExtractProfile(ctx context.Context, text string) (profile.Delta, error)
	JudgeRelevance(ctx context.Context, c news.Candidate, p *profile.Profile) (Judgment, error)
	InterpretFeedback(ctx context.Context, reason string, c news.Candidate, p *profile.Profile) (profile.Delta, error)
	Summarize(ctx context.Context, c news.Candidate) (string, error)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
