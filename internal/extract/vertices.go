package extract

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
)

// Pipeline applies an ordered list of vertex rules to normalized text.
type Pipeline struct {
	rules []PatternRule
	norm  *coord.Normalizer
	log   *zap.Logger
}

// NewPipeline creates a Pipeline. With no rules the built-in set is used.
func NewPipeline(norm *coord.Normalizer, rules ...PatternRule) *Pipeline {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Pipeline{
		rules: rules,
		norm:  norm,
		log:   zap.L().With(zap.String("component", "extract.vertices")),
	}
}

// Rules returns a copy of the rule list in evaluation order.
func (p *Pipeline) Rules() []PatternRule {
	out := make([]PatternRule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Run finds every candidate vertex in text. Candidates are returned in rule
// order, then text order; duplicates are not removed here. Every candidate
// that is not accepted leaves a SkipReason in stats.
func (p *Pipeline) Run(text string) ([]model.ExtractedVertex, model.ExtractionStats) {
	stats := model.ExtractionStats{
		RuleMatches:      make(map[string]int, len(p.rules)),
		ByClassification: make(map[model.Classification]int),
	}

	var out []model.ExtractedVertex
	for _, rule := range p.rules {
		matches := rule.FindAll(text)
		stats.RuleMatches[rule.Name()] += len(matches)
		stats.TotalMatches += len(matches)

		for _, m := range matches {
			v, skip := p.candidate(rule, m)
			if v.Classification != "" {
				stats.ByClassification[v.Classification]++
			}
			if skip != nil {
				p.log.Debug("candidate skipped",
					zap.String("rule", skip.Rule),
					zap.String("vertex", skip.Vertex),
					zap.String("kind", string(skip.Kind)),
					zap.String("detail", skip.Detail),
				)
				stats.Skipped = append(stats.Skipped, *skip)
				continue
			}
			out = append(out, v)
		}
	}
	return out, stats
}

func (p *Pipeline) candidate(rule PatternRule, m RuleMatch) (model.ExtractedVertex, *model.SkipReason) {
	v := model.ExtractedVertex{
		Name:    m.Name,
		Kind:    rule.Kind(),
		Rule:    rule.Name(),
		RawPair: [2]string{m.First, m.Second},
	}
	skip := func(kind model.SkipKind, detail string) *model.SkipReason {
		return &model.SkipReason{Rule: rule.Name(), Vertex: m.Name, Kind: kind, Detail: detail}
	}

	if m.Name == "" || m.First == "" || m.Second == "" {
		return v, skip(model.SkipIncompleteCapture, fmt.Sprintf("at offset %d", m.Offset))
	}

	var (
		pt  coord.Point
		err error
	)
	if rule.Kind() == model.KindGeographic {
		pt, err = p.norm.Geographic(m.First, m.Second)
	} else {
		pt, err = p.norm.Projected(m.First, m.Second)
	}
	if err != nil {
		var pe *coord.ParseError
		if errors.As(err, &pe) {
			return v, skip(pe.Kind, pe.Error())
		}
		return v, skip(model.SkipNumberParse, err.Error())
	}

	v.E, v.N = pt.E, pt.N
	v.LonOriginal, v.LatOriginal = pt.Lon, pt.Lat
	v.Classification = pt.Class

	switch {
	case pt.Class == model.ClassConversionFailed:
		return v, skip(model.SkipConversion, pt.Detail)
	case !pt.Class.Valid():
		return v, skip(model.SkipClassification, string(pt.Class))
	}
	return v, nil
}
