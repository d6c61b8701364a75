package profile

import "slices"

// Delta is a partial profile. Nil or empty fields mean "not reasoned about"
// and leave the current value untouched when merged.
type Delta struct {
	Role              *Role              `json:"role,omitempty"`
	TechnicalLevel    *TechnicalLevel    `json:"technical_level,omitempty"`
	Tags              map[string]float64 `json:"tags,omitempty"`
	RemoveTags        []string           `json:"remove_tags,omitempty"`
	Exclusions        []string           `json:"exclusions,omitempty"`
	RecencyPreference *int               `json:"recency_preference,omitempty"`
	PreferredSources  []string           `json:"preferred_sources,omitempty"`
}

// Empty reports whether the delta carries nothing to apply.
func (d Delta) Empty() bool {
	return d.Role == nil && d.TechnicalLevel == nil && len(d.Tags) == 0 &&
		len(d.RemoveTags) == 0 && len(d.Exclusions) == 0 &&
		d.RecencyPreference == nil && len(d.PreferredSources) == 0
}

// Merge overlays d onto p. Exclusions are applied first so that a delta can
// never re-add a tag it excludes in the same step. Tags present in both are
// overwritten by the delta, tags only in p are kept.
func (p *Profile) Merge(d Delta) {
	p.MergeWith(d, nil)
}

// MergeWith is Merge with exclusions widened by expand.
func (p *Profile) MergeWith(d Delta, expand Expander) {
	for _, ex := range d.Exclusions {
		p.ExcludeWith(ex, expand)
	}
	for _, t := range d.RemoveTags {
		p.Remove(t)
	}
	for t, w := range d.Tags {
		if p.ExcludedBy(t, expand) != "" {
			continue
		}
		p.SetWeight(t, w)
	}
	if d.Role != nil && d.Role.Valid() {
		p.Role = *d.Role
	}
	if d.TechnicalLevel != nil && d.TechnicalLevel.Valid() {
		p.SetTechnicalLevel(*d.TechnicalLevel)
	}
	if d.RecencyPreference != nil && *d.RecencyPreference > 0 {
		p.RecencyPreference = min(*d.RecencyPreference, MaxRecencyDays)
	}
	if len(d.PreferredSources) > 0 {
		p.PreferredSources = slices.Clone(d.PreferredSources)
	}
}
