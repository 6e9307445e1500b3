package extract

import (
	"math"

	"github.com/sells-group/memorial-cli/internal/model"
)

type vertexKey struct {
	name string
	e, n float64
}

func keyOf(v model.ExtractedVertex) vertexKey {
	return vertexKey{name: v.Name, e: round2(v.E), n: round2(v.N)}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Dedupe keeps the first occurrence of each (name, E, N) triple, with
// coordinates compared at centimeter precision. It returns the survivors in
// their original order and the number of dropped duplicates.
func Dedupe(vertices []model.ExtractedVertex) ([]model.ExtractedVertex, int) {
	seen := make(map[vertexKey]struct{}, len(vertices))
	out := make([]model.ExtractedVertex, 0, len(vertices))
	for _, v := range vertices {
		k := keyOf(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, len(vertices) - len(out)
}
