package oracle

import (
	"context"
	"strings"

	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
)

// Completer is a chat-style model that answers a system+user prompt pair
// with text expected to hold a JSON object.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLM implements Oracle over any Completer using the shared prompts and the
// tolerant JSON parser.
type LLM struct {
	c Completer
}

func NewLLM(c Completer) *LLM {
	return &LLM{c: c}
}

func (o *LLM) ask(ctx context.Context, system, prompt string) (string, error) {
	out, err := o.c.Complete(ctx, system, prompt)
	if err != nil {
		return "", unavailable(err)
	}
	if strings.TrimSpace(out) == "" {
		return "", malformed("empty response")
	}
	return out, nil
}

func (o *LLM) ExtractProfile(ctx context.Context, text string) (profile.Delta, error) {
	out, err := o.ask(ctx, systemProfile, profilePrompt(text))
	if err != nil {
		return profile.Delta{}, err
	}
	return parseDelta(out)
}

func (o *LLM) JudgeRelevance(ctx context.Context, c news.Candidate, p *profile.Profile) (Judgment, error) {
	out, err := o.ask(ctx, systemJudge, judgePrompt(c, p))
	if err != nil {
		return Judgment{}, err
	}
	return parseJudgment(out)
}

func (o *LLM) InterpretFeedback(ctx context.Context, reason string, c news.Candidate, p *profile.Profile) (profile.Delta, error) {
	out, err := o.ask(ctx, systemFeedback, feedbackPrompt(reason, c, p))
	if err != nil {
		return profile.Delta{}, err
	}
	return parseDelta(out)
}

func (o *LLM) Summarize(ctx context.Context, c news.Candidate) (string, error) {
	out, err := o.ask(ctx, systemSummary, summaryPrompt(c))
	if err != nil {
		return "", err
	}
	return parseSummary(out)
}
