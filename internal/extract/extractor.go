package extract

import (
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/textnorm"
)

// Extractor turns raw memorial text into an ExtractionResult. It holds no
// per-document state and may be shared between goroutines.
type Extractor struct {
	pipeline *Pipeline
	format   coord.NumberFormat
}

// New creates an Extractor using the built-in rules followed by extra.
func New(norm *coord.Normalizer, extra ...PatternRule) *Extractor {
	rules := append(DefaultRules(), extra...)
	return &Extractor{
		pipeline: NewPipeline(norm, rules...),
		format:   norm.Format(),
	}
}

// Rules returns the rules applied by the extractor, in order.
func (x *Extractor) Rules() []PatternRule { return x.pipeline.Rules() }

// Extract normalizes raw and extracts metadata and vertices. source is only
// recorded in the result and in log fields.
func (x *Extractor) Extract(source, raw string) *model.ExtractionResult {
	text := textnorm.Normalize(raw)

	md, hits := ExtractMetadata(text, x.format)
	candidates, stats := x.pipeline.Run(text)
	vertices, dupes := Dedupe(candidates)

	stats.FieldHits = hits
	stats.Duplicates = dupes
	stats.UniqueVertices = len(vertices)

	zap.L().Debug("extract: document parsed",
		zap.String("source", source),
		zap.Int("matches", stats.TotalMatches),
		zap.Int("vertices", stats.UniqueVertices),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("skipped", len(stats.Skipped)),
		zap.Strings("rules", stats.RuleNames()),
	)

	return &model.ExtractionResult{
		Source:   source,
		Metadata: md,
		Vertices: vertices,
		Stats:    stats,
	}
}
