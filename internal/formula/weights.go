package formula

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// weightsFile is the YAML shape of an external version table.
type weightsFile struct {
	Versions map[string]Weights `yaml:"versions"`
}

// LoadWeights merges formula versions from a YAML file into the
// registry. File entries override built-in versions of the same name,
// which is intended for staging environments only; released versions
// must stay frozen in the builtin table.
func (r *Registry) LoadWeights(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "formula: read weights file %s", path)
	}

	var f weightsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrapf(err, "formula: parse weights file %s", path)
	}

	for version, w := range f.Versions {
		if err := validateWeights(version, w); err != nil {
			return err
		}
		r.versions[version] = w
	}
	return nil
}

func validateWeights(version string, w Weights) error {
	var errs []string
	for name, v := range map[string]float64{
		"radio_spins":     w.RadioSpins,
		"social_mentions": w.SocialMentions,
		"video_views":     w.VideoViews,
		"releases":        w.Releases,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}
	if w.Sum() <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if math.Abs(w.Sum()-100) > 1 {
		errs = append(errs, fmt.Sprintf("weights should sum to 100, got %.1f", w.Sum()))
	}
	if len(errs) > 0 {
		return eris.Errorf("formula: version %q invalid: %s", version, strings.Join(errs, "; "))
	}
	return nil
}
