package model

import "sort"

// ExtractedVertex is a vertex recognized in a document during one parse pass.
// E and N are always projected meters; LonOriginal/LatOriginal only record
// the angular source values when the document declared geographic coordinates.
type ExtractedVertex struct {
	Name           string         `json:"name" yaml:"name"`
	Kind           CoordinateKind `json:"kind" yaml:"kind"`
	Rule           string         `json:"rule" yaml:"rule"`
	RawPair        [2]string      `json:"raw_pair" yaml:"raw_pair"`
	E              float64        `json:"e" yaml:"e"`
	N              float64        `json:"n" yaml:"n"`
	LonOriginal    *float64       `json:"lon_original,omitempty" yaml:"lon_original,omitempty"`
	LatOriginal    *float64       `json:"lat_original,omitempty" yaml:"lat_original,omitempty"`
	Classification Classification `json:"classification" yaml:"classification"`
}

// DocumentMetadata holds document-level attributes of a memorial.
type DocumentMetadata struct {
	Matricula     string   `json:"matricula,omitempty" yaml:"matricula,omitempty"`
	Imovel        string   `json:"imovel,omitempty" yaml:"imovel,omitempty"`
	Proprietarios []string `json:"proprietarios,omitempty" yaml:"proprietarios,omitempty"`
	Comarca       string   `json:"comarca,omitempty" yaml:"comarca,omitempty"`
	Municipio     string   `json:"municipio,omitempty" yaml:"municipio,omitempty"`
	UF            string   `json:"uf,omitempty" yaml:"uf,omitempty"`
	AreaM2        *float64 `json:"area_m2,omitempty" yaml:"area_m2,omitempty"`
	PerimetroM    *float64 `json:"perimetro_m,omitempty" yaml:"perimetro_m,omitempty"`
}

// SkipKind identifies why a candidate vertex was dropped.
type SkipKind string

const (
	SkipNumberParse       SkipKind = "NUMBER_PARSE"
	SkipAngleParse        SkipKind = "ANGLE_PARSE"
	SkipIncompleteCapture SkipKind = "REGEX_INCOMPLETE_CAPTURE"
	SkipClassification    SkipKind = "CLASSIFICATION"
	SkipConversion        SkipKind = "CONVERSION"
)

// SkipReason describes one dropped candidate.
type SkipReason struct {
	Rule   string   `json:"rule" yaml:"rule"`
	Vertex string   `json:"vertex,omitempty" yaml:"vertex,omitempty"`
	Kind   SkipKind `json:"kind" yaml:"kind"`
	Detail string   `json:"detail" yaml:"detail"`
}

// ExtractionStats is the diagnostic record of one extraction pass.
type ExtractionStats struct {
	TotalMatches     int                    `json:"total_matches" yaml:"total_matches"`
	UniqueVertices   int                    `json:"unique_vertices" yaml:"unique_vertices"`
	Duplicates       int                    `json:"duplicates" yaml:"duplicates"`
	RuleMatches      map[string]int         `json:"rule_matches" yaml:"rule_matches"`
	FieldHits        map[string]string      `json:"field_hits" yaml:"field_hits"`
	ByClassification map[Classification]int `json:"by_classification" yaml:"by_classification"`
	Skipped          []SkipReason           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// SkippedReasons counts skipped candidates per kind.
func (s ExtractionStats) SkippedReasons() map[SkipKind]int {
	out := make(map[SkipKind]int)
	for _, r := range s.Skipped {
		out[r.Kind]++
	}
	return out
}

// ExtractionResult is the structured output of parsing one document.
type ExtractionResult struct {
	Source   string            `json:"source,omitempty" yaml:"source,omitempty"`
	Metadata DocumentMetadata  `json:"metadata" yaml:"metadata"`
	Vertices []ExtractedVertex `json:"vertices" yaml:"vertices"`
	Stats    ExtractionStats   `json:"stats" yaml:"stats"`
}

// VertexNames returns the vertex names in extraction order.
func (r *ExtractionResult) VertexNames() []string {
	names := make([]string, len(r.Vertices))
	for i, v := range r.Vertices {
		names[i] = v.Name
	}
	return names
}

// RuleNames returns the rules that produced at least one match, sorted.
func (s ExtractionStats) RuleNames() []string {
	names := make([]string, 0, len(s.RuleMatches))
	for name, n := range s.RuleMatches {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
