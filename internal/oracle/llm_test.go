package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
)

type fakeCompleter struct {
	out     string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

func TestLLMJudge(t *testing.T) {
	fc := &fakeCompleter{out: "```json\n{\"score\": 8, \"explanation\": \"funding news in NLP\"}\n```"}
	o := NewLLM(fc)

	p := profile.New()
	p.SetWeight("nlp", 0.8)
	p.Exclude("crypto")
	c := news.NewCandidate(news.RawItem{Title: "NLP startup raises seed", URL: "https://example.com/n", Body: "Body text."})

	j, err := o.JudgeRelevance(context.Background(), c, p)
	if err != nil {
		t.Fatalf("JudgeRelevance: %v", err)
	}
	if j.Score != 8 {
		t.Errorf("score = %d", j.Score)
	}
	prompt := fc.prompts[0]
	for _, want := range []string{"nlp (0.80)", "Never show: crypto", "NLP startup raises seed"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLMErrors(t *testing.T) {
	c := news.Candidate{Title: "x"}

	o := NewLLM(&fakeCompleter{err: errors.New("503")})
	if _, err := o.Summarize(context.Background(), c); !errors.Is(err, ErrUnavailable) {
		t.Errorf("transport err = %v, want ErrUnavailable", err)
	}

	o = NewLLM(&fakeCompleter{out: "  "})
	if _, err := o.ExtractProfile(context.Background(), "hi"); !errors.Is(err, ErrMalformed) {
		t.Errorf("empty err = %v, want ErrMalformed", err)
	}

	o = NewLLM(&fakeCompleter{out: "I cannot help with that."})
	if _, err := o.InterpretFeedback(context.Background(), "meh", c, profile.New()); !errors.Is(err, ErrMalformed) {
		t.Errorf("prose err = %v, want ErrMalformed", err)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("Word word word. ", 100)
	got := clip(long, 200)
	if !strings.HasSuffix(got, "[TRUNCATED]") {
		t.Errorf("clip did not mark truncation: %q", got)
	}
	if clip("  a \n b ", 200) != "a b" {
		t.Errorf("clip did not collapse whitespace")
	}
}
