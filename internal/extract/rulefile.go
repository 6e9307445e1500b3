package extract

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/memorial-cli/internal/model"
)

// RuleFile is the YAML layout of an extra-rules file.
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written in a rule file. Patterns may use the
// {{MARKER}}, {{NAME}}, {{NUMBER}} and {{DMS}} placeholders.
type RuleSpec struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Pattern string   `yaml:"pattern"`
	Groups  GroupMap `yaml:"groups"`
}

// LoadRules reads and compiles extra vertex rules from a YAML file.
func LoadRules(path string) ([]PatternRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules compiles rules from YAML. Names must be unique and must not
// shadow a built-in rule.
func ParseRules(data []byte) ([]PatternRule, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "extract: parse rules")
	}

	taken := make(map[string]bool)
	for _, r := range DefaultRules() {
		taken[r.Name()] = true
	}

	rules := make([]PatternRule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		if taken[spec.Name] {
			return nil, eris.Errorf("extract: rule %d: duplicate name %q", i, spec.Name)
		}
		kind := model.CoordinateKind(strings.ToUpper(strings.TrimSpace(spec.Kind)))
		if kind == "" {
			kind = model.KindProjected
		}
		rule, err := NewPatternRule(spec.Name, kind, spec.Pattern, spec.Groups)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: rule %d", i)
		}
		taken[spec.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}
