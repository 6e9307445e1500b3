// Package extract recognizes document metadata and vertex declarations in
// normalized memorial text.
package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
)

// Pattern placeholders available to built-in and file-defined rules.
const (
	markerPlaceholder = "{{MARKER}}"
	namePlaceholder   = "{{NAME}}"
	numberPlaceholder = "{{NUMBER}}"
	dmsPlaceholder    = "{{DMS}}"
)

var placeholders = strings.NewReplacer(
	markerPlaceholder, `(?:MARCO|V[ÉE]RTICE|PONTO)`,
	namePlaceholder, `['"‘’“”]?([A-Z0-9]+(?:[-_][A-Z0-9]+)*)['"‘’“”]?`,
	numberPlaceholder, `(-?\d+(?:\.\d+)*(?:,\d+)?)`,
	dmsPlaceholder, `(`+coord.DMSPattern+`)`,
)

// GroupMap maps a rule's capture groups to the vertex name and the two
// coordinates. First is E (projected) or longitude (geographic); Second is N
// or latitude, whatever order the document idiom uses.
type GroupMap struct {
	Name   int `yaml:"name"`
	First  int `yaml:"first"`
	Second int `yaml:"second"`
}

// PatternRule recognizes one textual idiom for declaring a vertex. Rules are
// immutable once built and hold no scan state; a compiled regexp is safe to
// share.
type PatternRule struct {
	name    string
	kind    model.CoordinateKind
	re      *regexp.Regexp
	groups  GroupMap
	pattern string
}

// NewPatternRule compiles pattern (after placeholder expansion) into a rule.
func NewPatternRule(name string, kind model.CoordinateKind, pattern string, groups GroupMap) (PatternRule, error) {
	if strings.TrimSpace(name) == "" {
		return PatternRule{}, eris.New("extract: rule name is required")
	}
	if kind != model.KindProjected && kind != model.KindGeographic {
		return PatternRule{}, eris.Errorf("extract: rule %s: unknown coordinate kind %q", name, kind)
	}

	expanded := placeholders.Replace(pattern)
	re, err := regexp.Compile(expanded)
	if err != nil {
		return PatternRule{}, eris.Wrapf(err, "extract: rule %s: compile pattern", name)
	}

	n := re.NumSubexp()
	idx := []int{groups.Name, groups.First, groups.Second}
	seen := make(map[int]bool, len(idx))
	for _, g := range idx {
		if g < 1 || g > n {
			return PatternRule{}, eris.Errorf("extract: rule %s: group %d outside 1..%d", name, g, n)
		}
		if seen[g] {
			return PatternRule{}, eris.Errorf("extract: rule %s: group %d mapped twice", name, g)
		}
		seen[g] = true
	}

	return PatternRule{name: name, kind: kind, re: re, groups: groups, pattern: expanded}, nil
}

func mustRule(name string, kind model.CoordinateKind, pattern string, groups GroupMap) PatternRule {
	r, err := NewPatternRule(name, kind, pattern, groups)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the rule name.
func (r PatternRule) Name() string { return r.name }

// Kind returns the coordinate encoding the rule declares.
func (r PatternRule) Kind() model.CoordinateKind { return r.kind }

// Groups returns the capture group mapping.
func (r PatternRule) Groups() GroupMap { return r.groups }

// Pattern returns the expanded regular expression.
func (r PatternRule) Pattern() string { return r.pattern }

// RuleMatch is one occurrence of a rule in a text.
type RuleMatch struct {
	Name   string
	First  string
	Second string
	Offset int
}

// FindAll returns every non-overlapping occurrence of the rule in text.
// It is a pure function of (rule, text).
func (r PatternRule) FindAll(text string) []RuleMatch {
	locs := r.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]RuleMatch, 0, len(locs))
	for _, loc := range locs {
		out = append(out, RuleMatch{
			Name:   group(text, loc, r.groups.Name),
			First:  group(text, loc, r.groups.First),
			Second: group(text, loc, r.groups.Second),
			Offset: loc[0],
		})
	}
	return out
}

func group(text string, loc []int, i int) string {
	if 2*i+1 >= len(loc) || loc[2*i] < 0 {
		return ""
	}
	return strings.TrimSpace(text[loc[2*i]:loc[2*i+1]])
}

// DefaultRules returns the built-in vertex idioms in evaluation order.
func DefaultRules() []PatternRule {
	return []PatternRule{
		// MARCO 'V01' (E=672.338,25 M E N=7.187.922,29 M)
		mustRule("marker_e_n", model.KindProjected,
			`{{MARKER}}\s+{{NAME}}\s*[,(]?\s*\(?\s*(?:DE\s+)?(?:COORDENADAS?\s*)?(?:UTM\s*)?E\s*[=:]\s*{{NUMBER}}\s*(?:M\b)?\.?\s*(?:E\b|,|;|/)?\s*N\s*[=:]\s*{{NUMBER}}`,
			GroupMap{Name: 1, First: 2, Second: 3}),

		// MARCO 'V01' (N=7.187.922,29 M E E=672.338,25 M)
		mustRule("marker_n_e", model.KindProjected,
			`{{MARKER}}\s+{{NAME}}\s*[,(]?\s*\(?\s*(?:DE\s+)?(?:COORDENADAS?\s*)?(?:UTM\s*)?N\s*[=:]\s*{{NUMBER}}\s*(?:M\b)?\.?\s*(?:E\b|,|;|/)?\s*E\s*[=:]\s*{{NUMBER}}`,
			GroupMap{Name: 1, First: 3, Second: 2}),

		// VÉRTICE V03: E 672400,10 N 7187900,50
		mustRule("vertex_colon_e_n", model.KindProjected,
			`V[ÉE]RTICE\s+{{NAME}}\s*:\s*E\s*{{NUMBER}}\s*(?:M\b)?\s*[;,/]?\s*N\s*{{NUMBER}}`,
			GroupMap{Name: 1, First: 2, Second: 3}),

		// VÉRTICE FHV-M-3403, DE COORDENADAS N 7.187.922,29M E E 672.338,25M
		// The =/: forms of this phrasing are taken by marker_e_n and marker_n_e.
		mustRule("sigef_coordenadas_n_e", model.KindProjected,
			`{{MARKER}}\s+{{NAME}}\s*,?\s*(?:DE\s+)?COORDENADAS?\s*(?:UTM\s*)?N\s+{{NUMBER}}\s*(?:M\b)?\.?\s*(?:E\b|,|;|/)?\s*E\s+{{NUMBER}}`,
			GroupMap{Name: 1, First: 3, Second: 2}),

		// VÉRTICE FHV-V-0012, DE COORDENADAS E 672.338,25 M E N 7.187.922,29 M
		mustRule("sigef_coordenadas_e_n", model.KindProjected,
			`{{MARKER}}\s+{{NAME}}\s*,?\s*(?:DE\s+)?COORDENADAS?\s*(?:UTM\s*)?E\s+{{NUMBER}}\s*(?:M\b)?\.?\s*(?:E\b|,|;|/)?\s*N\s+{{NUMBER}}`,
			GroupMap{Name: 1, First: 2, Second: 3}),

		// FHV-M-3403   672338,25   7187922,29
		mustRule("sigef_table_row", model.KindProjected,
			`(?m)^[ \t]*([A-Z0-9]{2,6}-[MPV]-\d{1,6})[ \t]+{{NUMBER}}[ \t]+{{NUMBER}}`,
			GroupMap{Name: 1, First: 2, Second: 3}),

		// MARCO V05, LONGITUDE -49°28'14,978" E LATITUDE -25°18'54,615"
		mustRule("geo_lon_lat", model.KindGeographic,
			`{{MARKER}}\s+{{NAME}}[^\n]{0,80}?LONG(?:ITUDE|\.)?\s*[=:]?\s*{{DMS}}[\s,;]*(?:E\s+)?LAT(?:ITUDE|\.)?\s*[=:]?\s*{{DMS}}`,
			GroupMap{Name: 1, First: 2, Second: 3}),

		// MARCO V06, LATITUDE -25°18'54,615" E LONGITUDE -49°28'14,978"
		mustRule("geo_lat_lon", model.KindGeographic,
			`{{MARKER}}\s+{{NAME}}[^\n]{0,80}?LAT(?:ITUDE|\.)?\s*[=:]?\s*{{DMS}}[\s,;]*(?:E\s+)?LONG(?:ITUDE|\.)?\s*[=:]?\s*{{DMS}}`,
			GroupMap{Name: 1, First: 3, Second: 2}),
	}
}
