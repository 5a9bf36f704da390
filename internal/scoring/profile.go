package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type DecayFunction string

const (
	DecayLinear      DecayFunction = "linear"
	DecayExponential DecayFunction = "exponential"
	DecayStep        DecayFunction = "step"
)

// neutralRecency is the score assigned to undated content.
const neutralRecency = 0.5

type Weights struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Metadata   float64 `json:"metadata"`
}

// Bands are the descriptive quality cutoffs. They label results for
// observability and never affect ranking.
type Bands struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Fair      float64 `json:"fair"`
}

// Profile is a versioned, named set of scoring weights. It is immutable
// at evaluation time and swapped as a whole object. Weights should sum
// to roughly 1.0 for interpretability, but unnormalized weights are
// accepted: the combined score is just a weighted sum.
type Profile struct {
	Name             string        `json:"name"`
	Weights          Weights       `json:"weights"`
	Decay            DecayFunction `json:"decay"`
	MaxYears         float64       `json:"max_years"`
	MinSimilarity    float64       `json:"min_similarity"`
	MetadataBoostCap float64       `json:"metadata_boost_cap"`
	SkillMatchBoost  float64       `json:"skill_match_boost"`
	TagMatchBoost    float64       `json:"tag_match_boost"`
	Bands            Bands         `json:"bands"`
}

func Default() Profile {
	return Profile{
		Name: "default",
		Weights: Weights{
			Similarity: 0.60,
			Recency:    0.25,
			Metadata:   0.15,
		},
		Decay:            DecayLinear,
		MaxYears:         8,
		MinSimilarity:    0.30,
		MetadataBoostCap: 0.20,
		SkillMatchBoost:  0.05,
		TagMatchBoost:    0.03,
		Bands: Bands{
			Excellent: 0.75,
			Good:      0.60,
			Fair:      0.45,
		},
	}
}

// Merged fills zero-valued fields of p from the default profile. The
// engine itself always consumes complete profiles; this helper lives at
// the loading boundary only.
func Merged(p Profile) Profile {
	def := Default()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Weights == (Weights{}) {
		p.Weights = def.Weights
	}
	if p.Decay == "" {
		p.Decay = def.Decay
	}
	if p.MaxYears == 0 {
		p.MaxYears = def.MaxYears
	}
	if p.MinSimilarity == 0 {
		p.MinSimilarity = def.MinSimilarity
	}
	if p.MetadataBoostCap == 0 {
		p.MetadataBoostCap = def.MetadataBoostCap
	}
	if p.SkillMatchBoost == 0 {
		p.SkillMatchBoost = def.SkillMatchBoost
	}
	if p.TagMatchBoost == 0 {
		p.TagMatchBoost = def.TagMatchBoost
	}
	if p.Bands == (Bands{}) {
		p.Bands = def.Bands
	}
	return p
}

func (p Profile) Validate() error {
	if p.Weights.Similarity < 0 || p.Weights.Recency < 0 || p.Weights.Metadata < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	switch p.Decay {
	case DecayLinear, DecayExponential, DecayStep:
	default:
		return fmt.Errorf("unknown decay function %q", p.Decay)
	}
	if p.MaxYears <= 0 {
		return fmt.Errorf("max_years must be positive")
	}
	if p.MetadataBoostCap < 0 || p.SkillMatchBoost < 0 || p.TagMatchBoost < 0 {
		return fmt.Errorf("metadata boosts must be non-negative")
	}
	if !(p.Bands.Excellent > p.Bands.Good && p.Bands.Good > p.Bands.Fair) {
		return fmt.Errorf("quality bands must be strictly descending")
	}
	return nil
}

// RecencyScore maps the chunk's date range to [0,1]. A nil end date on
// a dated chunk means the engagement is current (age zero); fully
// undated content gets the neutral 0.5.
func (p Profile) RecencyScore(start, end *time.Time, now time.Time) float64 {
	if start == nil && end == nil {
		return neutralRecency
	}

	ref := now
	if end != nil {
		ref = *end
	}
	age := now.Sub(ref).Hours() / 24 / 365.25
	if age < 0 {
		age = 0
	}

	switch p.Decay {
	case DecayExponential:
		return math.Exp(-age / p.MaxYears)
	case DecayStep:
		switch {
		case age <= 1:
			return 1.0
		case age <= 2:
			return 0.85
		case age <= 5:
			return 0.60
		case age <= 10:
			return 0.35
		default:
			return 0.15
		}
	default: // linear
		return math.Max(0.1, 1-age/p.MaxYears)
	}
}

// MetadataBoost accumulates a bounded increment per matching skill and
// tag. Matching is case-insensitive.
func (p Profile) MetadataBoost(skills, tags, wantSkills, wantTags []string) float64 {
	boost := 0.0
	boost += float64(overlap(skills, wantSkills)) * p.SkillMatchBoost
	boost += float64(overlap(tags, wantTags)) * p.TagMatchBoost
	return math.Min(boost, p.MetadataBoostCap)
}

// Score combines the three factors with the profile's weights.
func (p Profile) Score(similarity, recency, metadataBoost float64) float64 {
	return p.Weights.Similarity*similarity +
		p.Weights.Recency*recency +
		p.Weights.Metadata*metadataBoost
}

// Band labels a combined score. Descriptive output only.
func (p Profile) Band(score float64) string {
	switch {
	case score >= p.Bands.Excellent:
		return "excellent"
	case score >= p.Bands.Good:
		return "good"
	case score >= p.Bands.Fair:
		return "fair"
	default:
		return "poor"
	}
}

func overlap(have, want []string) int {
	if len(have) == 0 || len(want) == 0 {
		return 0
	}
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	n := 0
	for _, w := range want {
		if set[strings.ToLower(strings.TrimSpace(w))] {
			n++
		}
	}
	return n
}
