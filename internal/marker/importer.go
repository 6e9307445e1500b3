package marker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

// ImportSummary reports how extracted vertices were persisted.
type ImportSummary struct {
	Source     string `json:"source" yaml:"source"`
	Candidates int    `json:"candidates" yaml:"candidates"`
	Inserted   int64  `json:"inserted" yaml:"inserted"`
	// Existing counts codes already present in the store.
	Existing int64 `json:"existing" yaml:"existing"`
	// RepeatedCodes counts vertices dropped because an earlier vertex in the
	// same document used the same code with other coordinates.
	RepeatedCodes int `json:"repeated_codes" yaml:"repeated_codes"`
}

// Importer turns extraction results into new marker records.
type Importer struct {
	store store.Store
}

// NewImporter creates an Importer.
func NewImporter(s store.Store) *Importer {
	return &Importer{store: s}
}

// Import stores the first vertex of each code in result as a SURVEYED marker.
// Validated follows the vertex classification, so mis-encoded vertices are
// stored with validated=false for the corrector. Codes that already exist are left
// untouched.
func (im *Importer) Import(ctx context.Context, result *model.ExtractionResult) (*ImportSummary, error) {
	records, repeated := Records(result)
	sum := &ImportSummary{
		Source:        result.Source,
		Candidates:    len(result.Vertices),
		RepeatedCodes: repeated,
	}
	if len(records) == 0 {
		return sum, nil
	}

	n, err := im.store.InsertMarkers(ctx, records)
	if err != nil {
		return nil, eris.Wrapf(err, "marker: import %s", result.Source)
	}
	sum.Inserted = n
	sum.Existing = int64(len(records)) - n

	zap.L().Info("markers imported",
		zap.String("component", "marker.import"),
		zap.String("source", result.Source),
		zap.Int64("inserted", sum.Inserted),
		zap.Int64("existing", sum.Existing),
		zap.Int("repeated_codes", sum.RepeatedCodes),
	)
	return sum, nil
}

// Records converts extracted vertices into marker records, keeping the first
// vertex for each code. It returns the records and how many were dropped.
func Records(result *model.ExtractionResult) ([]model.MarkerRecord, int) {
	seen := make(map[string]bool, len(result.Vertices))
	out := make([]model.MarkerRecord, 0, len(result.Vertices))
	dropped := 0

	for _, v := range result.Vertices {
		if seen[v.Name] {
			dropped++
			continue
		}
		seen[v.Name] = true

		e, n := v.E, v.N
		valid := v.Classification.Valid()
		out = append(out, model.MarkerRecord{
			Code:        v.Name,
			Type:        model.InferMarkerType(v.Name),
			E:           &e,
			N:           &n,
			Validated:   &valid,
			Status:      model.MarkerStatusSurveyed,
			Source:      result.Source,
			LonOriginal: v.LonOriginal,
			LatOriginal: v.LatOriginal,
		})
	}
	return out, dropped
}
