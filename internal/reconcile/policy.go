package reconcile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openshelf/bibcat/internal/model"
)

// Policy controls how conflicting facts are ranked. Tiers default to the
// sources' built-in reliability tiers; a policy file may override them or
// disable identifier precedence.
type Policy struct {
	// Tiers overrides the static reliability tier per source.
	Tiers map[model.Source]int `yaml:"tiers"`

	// IdentifierPrecedence, when true, ranks facts found via an exact
	// identifier lookup above any fuzzy-search fact regardless of tier.
	IdentifierPrecedence bool `yaml:"identifier_precedence"`
}

// DefaultPolicy returns the built-in ranking: static source tiers with
// identifier precedence on.
func DefaultPolicy() *Policy {
	return &Policy{IdentifierPrecedence: true}
}

// LoadPolicy reads a source-policy file. Missing keys fall back to defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read policy %s", path)
	}

	var wrapper struct {
		Policy Policy `yaml:"policy"`
	}
	wrapper.Policy.IdentifierPrecedence = true
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse policy")
	}
	return &wrapper.Policy, nil
}

// tier returns the effective reliability tier for a source.
func (p *Policy) tier(s model.Source) int {
	if p.Tiers != nil {
		if t, ok := p.Tiers[s]; ok {
			return t
		}
	}
	return s.Tier()
}
