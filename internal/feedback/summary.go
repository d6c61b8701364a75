package feedback

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/deusflow/newsprefs/internal/profile"
)

type TagChange struct {
	Tag    string  `json:"tag"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// ChangeSummary is what a feedback event did to a profile, for display.
type ChangeSummary struct {
	Added    []TagChange `json:"added,omitempty"`
	Removed  []TagChange `json:"removed,omitempty"`
	Adjusted []TagChange `json:"adjusted,omitempty"`
	Excluded []string    `json:"excluded,omitempty"`
	Level    string      `json:"technical_level,omitempty"`
	Degraded bool        `json:"degraded,omitempty"`
}

// Diff describes how after differs from before.
func Diff(before, after *profile.Profile) ChangeSummary {
	var s ChangeSummary
	for tag, w := range after.Tags {
		old, ok := before.Tags[tag]
		switch {
		case !ok:
			s.Added = append(s.Added, TagChange{Tag: tag, After: w})
		case old != w:
			s.Adjusted = append(s.Adjusted, TagChange{Tag: tag, Before: old, After: w})
		}
	}
	for tag, w := range before.Tags {
		if _, ok := after.Tags[tag]; !ok {
			s.Removed = append(s.Removed, TagChange{Tag: tag, Before: w})
		}
	}
	for _, ex := range after.Exclusions {
		if !slices.Contains(before.Exclusions, ex) {
			s.Excluded = append(s.Excluded, ex)
		}
	}
	if after.TechnicalLevel != before.TechnicalLevel {
		s.Level = string(after.TechnicalLevel)
	}

	byTag := func(cs []TagChange) {
		sort.Slice(cs, func(i, j int) bool { return cs[i].Tag < cs[j].Tag })
	}
	byTag(s.Added)
	byTag(s.Removed)
	byTag(s.Adjusted)
	return s
}

func (s ChangeSummary) Empty() bool {
	return len(s.Added) == 0 && len(s.Removed) == 0 && len(s.Adjusted) == 0 &&
		len(s.Excluded) == 0 && s.Level == ""
}

func (s ChangeSummary) String() string {
	var lines []string
	if s.Empty() {
		lines = append(lines, "No changes to your preferences.")
	}
	if len(s.Added) > 0 {
		parts := make([]string, len(s.Added))
		for i, c := range s.Added {
			parts[i] = fmt.Sprintf("%s (%.2f)", c.Tag, c.After)
		}
		lines = append(lines, "Added interests: "+strings.Join(parts, ", "))
	}
	if len(s.Removed) > 0 {
		parts := make([]string, len(s.Removed))
		for i, c := range s.Removed {
			parts[i] = c.Tag
		}
		lines = append(lines, "Removed interests: "+strings.Join(parts, ", "))
	}
	if len(s.Adjusted) > 0 {
		parts := make([]string, len(s.Adjusted))
		for i, c := range s.Adjusted {
			parts[i] = fmt.Sprintf("%s %.2f -> %.2f", c.Tag, c.Before, c.After)
		}
		lines = append(lines, "Adjusted: "+strings.Join(parts, ", "))
	}
	if len(s.Excluded) > 0 {
		lines = append(lines, "No longer showing: "+strings.Join(s.Excluded, ", "))
	}
	if s.Level != "" {
		lines = append(lines, "Technical level: "+s.Level)
	}
	if s.Degraded {
		lines = append(lines, "Your reason could not be fully analyzed right now; a basic adjustment was applied.")
	}
	return strings.Join(lines, "\n")
}
