// Package formula implements the versioned NGN Score formula as a pure
// function of its aggregated inputs. Recomputation for verification
// must be reproducible by any operator, so nothing here reads the
// clock, the environment, or any random source.
package formula

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ngn-platform/score-integrity/internal/model"
)

// Inputs are the aggregated signal totals a score is computed from.
type Inputs struct {
	RadioSpins     float64 `json:"radio_spins" yaml:"radio_spins"`
	SocialMentions float64 `json:"social_mentions" yaml:"social_mentions"`
	VideoViews     float64 `json:"video_views" yaml:"video_views"`
	Releases       float64 `json:"releases" yaml:"releases"`
}

// Weights are the per-signal multipliers of one formula version.
type Weights struct {
	RadioSpins     float64 `json:"radio_spins" yaml:"radio_spins"`
	SocialMentions float64 `json:"social_mentions" yaml:"social_mentions"`
	VideoViews     float64 `json:"video_views" yaml:"video_views"`
	Releases       float64 `json:"releases" yaml:"releases"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.RadioSpins + w.SocialMentions + w.VideoViews + w.Releases
}

// Registry maps formula versions to their weights. A version's weights
// never change after release; tuning ships as a new version.
type Registry struct {
	versions map[string]Weights
}

// builtinVersions is the released formula version table.
var builtinVersions = map[string]Weights{
	"v1": {RadioSpins: 35, SocialMentions: 25, VideoViews: 30, Releases: 10},
	"v2": {RadioSpins: 30, SocialMentions: 30, VideoViews: 30, Releases: 10},
}

// NewRegistry returns a registry seeded with the built-in versions.
func NewRegistry() *Registry {
	versions := make(map[string]Weights, len(builtinVersions))
	for v, w := range builtinVersions {
		versions[v] = w
	}
	return &Registry{versions: versions}
}

// Weights returns the weight set for a formula version.
func (r *Registry) Weights(version string) (Weights, error) {
	w, ok := r.versions[version]
	if !ok {
		return Weights{}, eris.Errorf("formula: unknown version %q", version)
	}
	return w, nil
}

// Versions returns the known version identifiers, sorted.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Compute evaluates the NGN Score for the given inputs under the given
// formula version. Each signal contributes weight * log10(1+value),
// dampening raw volume so a viral video cannot drown out every other
// signal.
func (r *Registry) Compute(inputs Inputs, version string) (float64, error) {
	w, err := r.Weights(version)
	if err != nil {
		return 0, err
	}

	score := w.RadioSpins*damp(inputs.RadioSpins) +
		w.SocialMentions*damp(inputs.SocialMentions) +
		w.VideoViews*damp(inputs.VideoViews) +
		w.Releases*damp(inputs.Releases)
	return score, nil
}

// Factors returns the per-signal breakdown used on fairness receipts.
func (r *Registry) Factors(inputs Inputs, version string) (map[string]model.Factor, error) {
	w, err := r.Weights(version)
	if err != nil {
		return nil, err
	}
	return map[string]model.Factor{
		string(model.SignalRadioSpins):     {Weight: w.RadioSpins, Value: inputs.RadioSpins},
		string(model.SignalSocialMentions): {Weight: w.SocialMentions, Value: inputs.SocialMentions},
		string(model.SignalVideoViews):     {Weight: w.VideoViews, Value: inputs.VideoViews},
		string(model.SignalReleases):       {Weight: w.Releases, Value: inputs.Releases},
	}, nil
}

func damp(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return math.Log10(1 + v)
}

// InputsFromRows aggregates signal rows into formula inputs by summing
// values per signal type. Row order is irrelevant.
func InputsFromRows(rows []model.SignalRow) Inputs {
	var in Inputs
	for _, r := range rows {
		switch r.SignalType {
		case model.SignalRadioSpins:
			in.RadioSpins += r.Value
		case model.SignalSocialMentions:
			in.SocialMentions += r.Value
		case model.SignalVideoViews:
			in.VideoViews += r.Value
		case model.SignalReleases:
			in.Releases += r.Value
		}
	}
	return in
}

// InputsFromSnapshot converts a frozen snapshot back into inputs.
func InputsFromSnapshot(s *model.InputsSnapshot) Inputs {
	return Inputs{
		RadioSpins:     s.RadioSpins,
		SocialMentions: s.SocialMentions,
		VideoViews:     s.VideoViews,
		Releases:       s.Releases,
	}
}

// Snapshot freezes inputs for storage alongside a history entry.
func Snapshot(in Inputs) *model.InputsSnapshot {
	return &model.InputsSnapshot{
		RadioSpins:     in.RadioSpins,
		SocialMentions: in.SocialMentions,
		VideoViews:     in.VideoViews,
		Releases:       in.Releases,
	}
}
