package marker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

// ValidationSummary reports one validation pass.
type ValidationSummary struct {
	Checked          int                          `json:"checked" yaml:"checked"`
	Valid            int                          `json:"valid" yaml:"valid"`
	Invalid          int                          `json:"invalid" yaml:"invalid"`
	Pending          int                          `json:"pending" yaml:"pending"`
	ByClassification map[model.Classification]int `json:"by_classification" yaml:"by_classification"`
}

// Validator stamps validated / validation_error on persisted markers.
type Validator struct {
	store store.Store
	cls   *coord.Classifier
}

// NewValidator creates a Validator. A nil classifier uses coord.NewClassifier.
func NewValidator(s store.Store, cls *coord.Classifier) *Validator {
	if cls == nil {
		cls = coord.NewClassifier()
	}
	return &Validator{store: s, cls: cls}
}

// Run validates markers that have never been validated, or every marker when
// force is set. Pairs that cannot be resolved (null, absurd, out of range)
// move to PENDING. Geographic pairs stored as projected are flagged invalid
// but stay SURVEYED so the corrector can pick them up. The pass commits as a
// single transaction.
func (v *Validator) Run(ctx context.Context, force bool) (*ValidationSummary, error) {
	log := zap.L().With(zap.String("component", "marker.validate"))

	markers, err := v.store.ListMarkers(ctx, store.MarkerFilter{Unvalidated: !force})
	if err != nil {
		return nil, eris.Wrap(err, "marker: validate: list markers")
	}

	sum := &ValidationSummary{ByClassification: make(map[model.Classification]int)}
	if len(markers) == 0 {
		return sum, nil
	}

	err = v.store.WithTx(ctx, func(tx store.Tx) error {
		for i := range markers {
			m := &markers[i]
			class := v.cls.ClassifyNullable(m.E, m.N, model.KindProjected)
			sum.ByClassification[class]++

			valid, status, reason := v.outcome(m, class)
			if err := tx.SetValidation(ctx, m.ID, valid, reason, status); err != nil {
				return err
			}

			switch {
			case valid:
				sum.Valid++
			case status == model.MarkerStatusPending:
				sum.Invalid++
				sum.Pending++
			default:
				sum.Invalid++
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "marker: validate")
	}
	sum.Checked = len(markers)

	log.Info("validation pass complete",
		zap.Bool("force", force),
		zap.Int("checked", sum.Checked),
		zap.Int("valid", sum.Valid),
		zap.Int("invalid", sum.Invalid),
		zap.Int("pending", sum.Pending),
	)
	return sum, nil
}

func (v *Validator) outcome(m *model.MarkerRecord, class model.Classification) (bool, model.MarkerStatus, string) {
	switch {
	case class.Valid():
		return true, m.Status, ""
	case class == model.ClassGeographicMistaken:
		return false, m.Status, string(class)
	}
	return false, model.MarkerStatusPending, string(class)
}
