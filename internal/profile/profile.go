// Package profile holds the per-user interest model: weighted topic tags,
// exclusions and the role/technical-level attributes that shape ranking.
//
// Every mutation of a Profile goes through the methods in this package so
// that exclusion dominance and weight bounds hold no matter which path
// (onboarding, feedback, explicit tag edits) changed the profile.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleInvestor   Role = "investor"
	RoleFounder    Role = "founder"
	RoleDeveloper  Role = "developer"
	RoleResearcher Role = "researcher"
	RoleExecutive  Role = "executive"
	RoleEnthusiast Role = "enthusiast"
)

// Roles lists every accepted role in display order.
var Roles = []Role{RoleInvestor, RoleFounder, RoleDeveloper, RoleResearcher, RoleExecutive, RoleEnthusiast}

func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

type TechnicalLevel string

const (
	LevelBeginner     TechnicalLevel = "beginner"
	LevelIntermediate TechnicalLevel = "intermediate"
	LevelAdvanced     TechnicalLevel = "advanced"
)

func (l TechnicalLevel) Valid() bool {
	return l == LevelBeginner || l == LevelIntermediate || l == LevelAdvanced
}

// ContentLength is derived from TechnicalLevel and never set on its own.
type ContentLength string

const (
	LengthSimplified ContentLength = "simplified"
	LengthBalanced   ContentLength = "balanced"
	LengthDetailed   ContentLength = "detailed"
)

// ContentLengthFor maps a technical level to the content length it implies.
func ContentLengthFor(l TechnicalLevel) ContentLength {
	switch l {
	case LevelBeginner:
		return LengthSimplified
	case LevelAdvanced:
		return LengthDetailed
	default:
		return LengthBalanced
	}
}

const (
	MinWeight = 0.0
	MaxWeight = 1.0

	// SuppressedWeight is the floor a disliked tag is pushed down to. Tags at
	// or below it stay in the profile but are treated as suppressed.
	SuppressedWeight = 0.1

	DefaultRecencyDays = 2
	MaxRecencyDays     = 365
)

// DefaultSources are the preferred sources of a fresh profile.
var DefaultSources = []string{"HackerNews", "TechCrunch"}

// Profile is the persisted per-user interest record.
type Profile struct {
	Role              Role               `json:"role"`
	TechnicalLevel    TechnicalLevel     `json:"technical_level"`
	ContentLength     ContentLength      `json:"content_length"`
	Tags              map[string]float64 `json:"tags"`
	Exclusions        []string           `json:"exclusions"`
	RecencyPreference int                `json:"recency_preference"`
	PreferredSources  []string           `json:"preferred_sources"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Version           int64              `json:"version"`
}

// New returns a profile with the documented defaults.
func New() *Profile {
	return &Profile{
		Role:              RoleEnthusiast,
		TechnicalLevel:    LevelIntermediate,
		ContentLength:     LengthBalanced,
		Tags:              make(map[string]float64),
		Exclusions:        []string{},
		RecencyPreference: DefaultRecencyDays,
		PreferredSources:  slices.Clone(DefaultSources),
	}
}

// Normalize lowercases and trims a tag or exclusion term and collapses
// internal whitespace to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// TagTokens splits a normalized tag into its words. Underscores, dashes and
// spaces all separate words, so "european_startups" yields [european startups].
func TagTokens(tag string) []string {
	return strings.FieldsFunc(tag, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
}

// TagText is the form of a tag used for matching against free text.
func TagText(tag string) string {
	return strings.Join(TagTokens(tag), " ")
}

func clamp(w float64) float64 {
	if math.IsNaN(w) {
		return MinWeight
	}
	return math.Max(MinWeight, math.Min(MaxWeight, w))
}

// Expander lists the terms an exclusion stands for, such as a region code
// and its aliases. A nil Expander means every exclusion stands for itself.
type Expander func(term string) []string

// IsExcluded reports whether tag is blocked by an exclusion taken literally.
func (p *Profile) IsExcluded(tag string) bool {
	return p.ExcludedBy(tag, nil) != ""
}

// ExcludedBy returns the exclusion that blocks tag, or "" if none does. A
// single-word term blocks tags containing that word, a multi-word term
// blocks tags containing the whole phrase. Each exclusion is widened by
// expand first.
func (p *Profile) ExcludedBy(tag string, expand Expander) string {
	tag = Normalize(tag)
	if tag == "" {
		return ""
	}
	tokens := TagTokens(tag)
	text := " " + TagText(tag) + " "
	for _, ex := range p.Exclusions {
		terms := []string{ex}
		if expand != nil {
			terms = append(terms, expand(ex)...)
		}
		for _, term := range terms {
			term = TagText(Normalize(term))
			switch {
			case term == "":
			case strings.Contains(term, " "):
				if strings.Contains(text, " "+term+" ") {
					return ex
				}
			case slices.Contains(tokens, term):
				return ex
			}
		}
	}
	return ""
}

// SetWeight stores tag with weight clamped into [0,1]. It is a no-op when the
// tag is excluded and reports whether the profile changed.
func (p *Profile) SetWeight(tag string, weight float64) bool {
	tag = Normalize(tag)
	if tag == "" || p.IsExcluded(tag) {
		return false
	}
	if p.Tags == nil {
		p.Tags = make(map[string]float64)
	}
	w := clamp(weight)
	if old, ok := p.Tags[tag]; ok && old == w {
		return false
	}
	p.Tags[tag] = w
	return true
}

// AdjustWeight shifts an existing tag by delta, bounded by [floor, ceil]
// which are themselves clamped into [0,1]. Missing tags are left alone.
func (p *Profile) AdjustWeight(tag string, delta, floor, ceil float64) (before, after float64, ok bool) {
	tag = Normalize(tag)
	before, ok = p.Tags[tag]
	if !ok || p.IsExcluded(tag) {
		return before, before, false
	}
	floor, ceil = clamp(floor), clamp(ceil)
	after = math.Max(floor, math.Min(ceil, before+delta))
	// Keep two decimals so repeated +0.1/-0.2 steps do not drift.
	after = math.Round(after*100) / 100
	p.Tags[tag] = after
	return before, after, true
}

// Remove deletes tag and reports whether it was present.
func (p *Profile) Remove(tag string) bool {
	tag = Normalize(tag)
	if _, ok := p.Tags[tag]; !ok {
		return false
	}
	delete(p.Tags, tag)
	return true
}

// Exclude adds term to the exclusion set and drops every tag the new
// exclusion blocks. It returns the removed tags.
func (p *Profile) Exclude(term string) []string {
	return p.ExcludeWith(term, nil)
}

// ExcludeWith is Exclude with exclusions widened by expand, so excluding a
// region also drops tags naming any of its aliases.
func (p *Profile) ExcludeWith(term string, expand Expander) []string {
	term = Normalize(term)
	if term == "" {
		return nil
	}
	if !slices.Contains(p.Exclusions, term) {
		p.Exclusions = append(p.Exclusions, term)
		sort.Strings(p.Exclusions)
	}
	var removed []string
	for tag := range p.Tags {
		if p.ExcludedBy(tag, expand) != "" {
			delete(p.Tags, tag)
			removed = append(removed, tag)
		}
	}
	sort.Strings(removed)
	return removed
}

// Suppressed reports whether tag is present at or below the suppression floor.
func (p *Profile) Suppressed(tag string) bool {
	w, ok := p.Tags[Normalize(tag)]
	return ok && w <= SuppressedWeight
}

// SetTechnicalLevel updates the level and the content length derived from it.
func (p *Profile) SetTechnicalLevel(l TechnicalLevel) {
	if !l.Valid() {
		l = LevelIntermediate
	}
	p.TechnicalLevel = l
	p.ContentLength = ContentLengthFor(l)
}

// SortedTags returns tag names ordered by weight, heaviest first.
func (p *Profile) SortedTags() []string {
	tags := make([]string, 0, len(p.Tags))
	for t := range p.Tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if p.Tags[tags[i]] != p.Tags[tags[j]] {
			return p.Tags[tags[i]] > p.Tags[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Tags = make(map[string]float64, len(p.Tags))
	for k, v := range p.Tags {
		c.Tags[k] = v
	}
	c.Exclusions = slices.Clone(p.Exclusions)
	c.PreferredSources = slices.Clone(p.PreferredSources)
	return &c
}

// Fingerprint is a short stable hash of everything that influences a
// relevance judgment. It changes whenever tags, exclusions or role change.
func (p *Profile) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|", p.Role, p.TechnicalLevel)
	tags := make([]string, 0, len(p.Tags))
	for t := range p.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	for _, t := range tags {
		fmt.Fprintf(&b, "%s=%.2f,", t, p.Tags[t])
	}
	b.WriteString("|")
	b.WriteString(strings.Join(p.Exclusions, ","))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// Coerce repairs a profile read from or written to storage: unknown enums
// fall back to defaults, weights are clamped, keys are normalized and
// exclusions deduplicated. Internal code can rely on a coerced profile
// never carrying nil maps or out-of-range values.
func (p *Profile) Coerce() {
	if !p.Role.Valid() {
		p.Role = RoleEnthusiast
	}
	p.SetTechnicalLevel(p.TechnicalLevel)

	seen := make(map[string]bool, len(p.Exclusions))
	exclusions := make([]string, 0, len(p.Exclusions))
	for _, ex := range p.Exclusions {
		ex = Normalize(ex)
		if ex == "" || seen[ex] {
			continue
		}
		seen[ex] = true
		exclusions = append(exclusions, ex)
	}
	sort.Strings(exclusions)
	p.Exclusions = exclusions

	tags := make(map[string]float64, len(p.Tags))
	for k, v := range p.Tags {
		k = Normalize(k)
		if k == "" {
			continue
		}
		v = clamp(v)
		if old, ok := tags[k]; ok && old >= v {
			continue
		}
		tags[k] = v
	}
	p.Tags = tags
	for tag := range p.Tags {
		if p.IsExcluded(tag) {
			delete(p.Tags, tag)
		}
	}

	if p.RecencyPreference <= 0 {
		p.RecencyPreference = DefaultRecencyDays
	}
	if p.RecencyPreference > MaxRecencyDays {
		p.RecencyPreference = MaxRecencyDays
	}
	if p.PreferredSources == nil {
		p.PreferredSources = []string{}
	}
}
