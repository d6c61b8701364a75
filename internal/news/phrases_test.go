package news

import (
	"slices"
	"testing"
)

func TestAnalyzeReason(t *testing.T) {
	v := DefaultVocabulary()

	tests := []struct {
		name     string
		reason   string
		negated  []string
		positive []string
		regions  []string
		shift    int
	}{
		{
			name:    "region is the whole phrase",
			reason:  "don't care about Europe",
			negated: []string{"europe"},
			regions: []string{"eu"},
		},
		{
			name:    "region with generic noun",
			reason:  "not interested in european startups",
			negated: []string{"european startups"},
			regions: []string{"eu"},
		},
		{
			name:    "region modifying another topic",
			reason:  "no more US politics",
			negated: []string{"us politics"},
		},
		{
			name:    "comma starts a new clause",
			reason:  "not interested in crypto, the US angle is fine",
			negated: []string{"crypto"},
		},
		{
			name:    "comma separates a list",
			reason:  "not interested in crypto, blockchain or NFTs",
			negated: []string{"crypto", "blockchain", "nfts"},
		},
		{
			name:     "negation and request",
			reason:   "stop showing me crypto, I prefer robotics",
			negated:  []string{"crypto"},
			positive: []string{"robotics"},
		},
		{
			name:     "regardless is not a negation",
			reason:   "I want robotics news regardless of the region",
			positive: []string{"robotics"},
		},
		{
			name:     "qualifier before the request",
			reason:   "regardless of region, more on robotics",
			positive: []string{"robotics"},
		},
		{
			name:   "useless is not a negation",
			reason: "useless piece on robotics",
		},
		{
			name:   "unless is not a negation",
			reason: "good unless it is about crypto",
		},
		{
			name:    "too technical",
			reason:  "too technical, skip the math",
			negated: []string{"math"},
			shift:   -1,
		},
		{
			name:   "too basic",
			reason: "way too basic",
			shift:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.AnalyzeReason(tt.reason)
			if !slices.Equal(got.Negated, tt.negated) {
				t.Errorf("Negated = %q, want %q", got.Negated, tt.negated)
			}
			if !slices.Equal(got.Positive, tt.positive) {
				t.Errorf("Positive = %q, want %q", got.Positive, tt.positive)
			}
			if !slices.Equal(got.Regions, tt.regions) {
				t.Errorf("Regions = %q, want %q", got.Regions, tt.regions)
			}
			if got.LevelShift != tt.shift {
				t.Errorf("LevelShift = %d, want %d", got.LevelShift, tt.shift)
			}
		})
	}
}

func TestRegionHead(t *testing.T) {
	v := DefaultVocabulary()
	tests := []struct {
		phrase string
		code   string
		ok     bool
	}{
		{"europe", "eu", true},
		{"european startups", "eu", true},
		{"uk fintech market", "", false},
		{"us based companies", "us", true},
		{"us politics", "", false},
		{"startups", "", false},
	}
	for _, tt := range tests {
		code, ok := v.RegionHead(tt.phrase)
		if code != tt.code || ok != tt.ok {
			t.Errorf("RegionHead(%q) = %q, %v, want %q, %v", tt.phrase, code, ok, tt.code, tt.ok)
		}
	}
}
