// Package recommend picks beatmap recommendations for users.
//
// A recommendation is drawn from a batch of candidates produced by a
// candidate-generation model. The model is chosen by the user's play count
// tier; candidates are sampled weighted by their probability, and every
// recommended beatmap is excluded from later draws until the user resets.
package recommend

import (
	"fmt"
	"sort"
	"strings"
)

// Model names a candidate-generation model.
type Model string

const (
	Beta   Model = "beta"
	Gamma4 Model = "gamma4"
	Gamma5 Model = "gamma5"
)

// Models lists the known models in the order they are offered to users.
var Models = []Model{Beta, Gamma4, Gamma5}

// ParseModel returns the model called name, ignoring case.
func ParseModel(name string) (Model, bool) {
	m := Model(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Models {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// Tier assigns a model to users with at least MinPlayCount plays.
type Tier struct {
	MinPlayCount int   `mapstructure:"min_play_count" validate:"gte=0"`
	Model        Model `mapstructure:"model" validate:"required,oneof=beta gamma4 gamma5"`
}

// DefaultTiers are used when no tiers are configured.
func DefaultTiers() []Tier {
	return []Tier{
		{MinPlayCount: 0, Model: Beta},
		{MinPlayCount: 1000, Model: Gamma4},
		{MinPlayCount: 50000, Model: Gamma5},
	}
}

// Tiers is an ordered set of play count tiers.
type Tiers []Tier

// NewTiers sorts tiers by threshold and checks that every play count is
// covered.
func NewTiers(tiers []Tier) (Tiers, error) {
	if len(tiers) == 0 {
		return DefaultTiers(), nil
	}
	out := make(Tiers, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinPlayCount < out[j].MinPlayCount })

	if out[0].MinPlayCount != 0 {
		return nil, fmt.Errorf("lowest tier must start at play count 0, got %d", out[0].MinPlayCount)
	}
	for i, t := range out {
		if _, ok := ParseModel(string(t.Model)); !ok {
			return nil, fmt.Errorf("tier %d: unknown model %q", i, t.Model)
		}
		if i > 0 && t.MinPlayCount == out[i-1].MinPlayCount {
			return nil, fmt.Errorf("duplicate tier threshold %d", t.MinPlayCount)
		}
	}
	return out, nil
}

// ModelFor returns the model of the highest tier playCount reaches.
func (t Tiers) ModelFor(playCount int) Model {
	model := t[0].Model
	for _, tier := range t {
		if playCount < tier.MinPlayCount {
			break
		}
		model = tier.Model
	}
	return model
}
