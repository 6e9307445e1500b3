// Package marker runs the batch operations over persisted markers: the
// validation pass, the import of extracted vertices and the correction of
// geographic coordinates that were stored as projected ones.
package marker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

// DefaultCRS names the target CRS when the projector does not name itself.
const DefaultCRS = "SIRGAS2000 / UTM 22S"

// DefaultReason is the correction log reason for a reprojection into crs.
func DefaultReason(crs string) string {
	return "geographic coordinates stored as projected; reprojected to " + crs
}

// DefaultOperator is recorded when no operator is configured.
const DefaultOperator = "memorial-cli"

// Action is what a plan intends to do with one marker.
type Action string

const (
	ActionUnchanged   Action = "UNCHANGED"
	ActionCorrect     Action = "CORRECT"
	ActionMarkPending Action = "MARK_PENDING"
)

// PlanItem is the planned outcome for one marker. NewE/NewN are set for
// CORRECT items; Lon/Lat for every item whose stored pair was read as degrees.
type PlanItem struct {
	MarkerID       int64                `json:"marker_id" yaml:"marker_id"`
	Code           string               `json:"code" yaml:"code"`
	Classification model.Classification `json:"classification" yaml:"classification"`
	Action         Action               `json:"action" yaml:"action"`
	OldE           float64              `json:"old_e" yaml:"old_e"`
	OldN           float64              `json:"old_n" yaml:"old_n"`
	NewE           *float64             `json:"new_e,omitempty" yaml:"new_e,omitempty"`
	NewN           *float64             `json:"new_n,omitempty" yaml:"new_n,omitempty"`
	Lon            *float64             `json:"lon,omitempty" yaml:"lon,omitempty"`
	Lat            *float64             `json:"lat,omitempty" yaml:"lat,omitempty"`
	Result         model.Classification `json:"result,omitempty" yaml:"result,omitempty"`
	Detail         string               `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// CorrectionPlan is the dry-run output of Corrector.Plan. Nothing has been
// written when a plan is returned.
type CorrectionPlan struct {
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Items     []PlanItem     `json:"items" yaml:"items"`
	Actions   map[Action]int `json:"actions" yaml:"actions"`
}

// Actionable returns the items that Commit would write.
func (p *CorrectionPlan) Actionable() []PlanItem {
	var out []PlanItem
	for _, it := range p.Items {
		if it.Action != ActionUnchanged {
			out = append(out, it)
		}
	}
	return out
}

// RecordSkip is a planned write that Commit could not apply.
type RecordSkip struct {
	MarkerID int64  `json:"marker_id" yaml:"marker_id"`
	Code     string `json:"code" yaml:"code"`
	Action   Action `json:"action" yaml:"action"`
	Reason   string `json:"reason" yaml:"reason"`
}

// CorrectionSummary reports what Commit did.
type CorrectionSummary struct {
	BatchID          string                       `json:"batch_id" yaml:"batch_id"`
	Checked          int                          `json:"checked" yaml:"checked"`
	Unchanged        int                          `json:"unchanged" yaml:"unchanged"`
	Corrected        int                          `json:"corrected" yaml:"corrected"`
	Pending          int                          `json:"pending" yaml:"pending"`
	Skipped          int                          `json:"skipped" yaml:"skipped"`
	ByClassification map[model.Classification]int `json:"by_classification" yaml:"by_classification"`
	Skips            []RecordSkip                 `json:"skips,omitempty" yaml:"skips,omitempty"`
}

// CorrectorConfig holds the audit fields written with each correction.
type CorrectorConfig struct {
	Operator string `yaml:"operator" mapstructure:"operator"`
	Reason   string `yaml:"reason" mapstructure:"reason"`
}

// Corrector finds geographic pairs stored as projected coordinates and
// reprojects them.
type Corrector struct {
	store store.Store
	norm  *coord.Normalizer
	cfg   CorrectorConfig
}

// NewCorrector creates a Corrector. Empty config fields take the defaults.
func NewCorrector(s store.Store, norm *coord.Normalizer, cfg CorrectorConfig) *Corrector {
	if cfg.Operator == "" {
		cfg.Operator = DefaultOperator
	}
	if cfg.Reason == "" {
		cfg.Reason = DefaultReason(targetCRS(norm))
	}
	return &Corrector{store: s, norm: norm, cfg: cfg}
}

// targetCRS names the CRS the normalizer reprojects into.
func targetCRS(norm *coord.Normalizer) string {
	if norm != nil {
		if named, ok := norm.Projector().(interface{ Name() string }); ok {
			return named.Name()
		}
	}
	return DefaultCRS
}

// Plan classifies every SURVEYED marker with coordinates and decides its
// action without writing anything. filter may narrow the selection further
// (Limit); its Status and WithCoordinates fields are overridden.
func (c *Corrector) Plan(ctx context.Context, filter store.MarkerFilter) (*CorrectionPlan, error) {
	filter.Status = model.MarkerStatusSurveyed
	filter.WithCoordinates = true

	markers, err := c.store.ListMarkers(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "marker: plan corrections")
	}

	plan := &CorrectionPlan{
		CreatedAt: time.Now().UTC(),
		Items:     make([]PlanItem, 0, len(markers)),
		Actions:   make(map[Action]int),
	}
	for i := range markers {
		it := c.planItem(&markers[i])
		plan.Items = append(plan.Items, it)
		plan.Actions[it.Action]++
	}
	return plan, nil
}

func (c *Corrector) planItem(m *model.MarkerRecord) PlanItem {
	it := PlanItem{
		MarkerID:       m.ID,
		Code:           m.Code,
		OldE:           *m.E,
		OldN:           *m.N,
		Classification: c.norm.Classifier().Classify(*m.E, *m.N, model.KindProjected),
		Action:         ActionUnchanged,
	}
	if it.Classification != model.ClassGeographicMistaken {
		return it
	}

	p := c.norm.Reproject(it.OldE, it.OldN)
	it.Lon, it.Lat = p.Lon, p.Lat
	it.Result = p.Class
	if p.Class != model.ClassProjectedValid {
		it.Action = ActionMarkPending
		it.Detail = string(p.Class)
		if p.Detail != "" {
			it.Detail += ": " + p.Detail
		}
		return it
	}

	e, n := p.E, p.N
	it.NewE, it.NewN = &e, &n
	it.Action = ActionCorrect
	return it
}

// Commit applies a plan in one transaction. Each record runs inside its own
// savepoint: a record that fails (for example because it changed since the
// plan was made) is rolled back alone and counted as skipped. Failures of the
// transaction itself abort the whole batch.
func (c *Corrector) Commit(ctx context.Context, plan *CorrectionPlan) (*CorrectionSummary, error) {
	log := zap.L().With(zap.String("component", "marker.correct"))

	sum := &CorrectionSummary{
		BatchID:          uuid.NewString(),
		Checked:          len(plan.Items),
		ByClassification: make(map[model.Classification]int),
	}
	for _, it := range plan.Items {
		sum.ByClassification[it.Classification]++
		if it.Action == ActionUnchanged {
			sum.Unchanged++
		}
	}

	work := plan.Actionable()
	if len(work) == 0 {
		log.Info("nothing to correct", zap.Int("checked", sum.Checked))
		return sum, nil
	}

	var corrected, pending int
	var skips []RecordSkip
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		corrected, pending, skips = 0, 0, nil
		for _, it := range work {
			var recErr error
			err := tx.Savepoint(ctx, fmt.Sprintf("marker_%d", it.MarkerID), func() error {
				recErr = c.apply(ctx, tx, sum.BatchID, it)
				return recErr
			})
			if recErr != nil && err == recErr {
				log.Debug("record skipped",
					zap.Int64("marker_id", it.MarkerID),
					zap.String("code", it.Code),
					zap.Error(recErr),
				)
				skips = append(skips, RecordSkip{
					MarkerID: it.MarkerID, Code: it.Code, Action: it.Action, Reason: recErr.Error(),
				})
				continue
			}
			if err != nil {
				return eris.Wrapf(err, "marker: commit marker %d", it.MarkerID)
			}

			if it.Action == ActionCorrect {
				corrected++
			} else {
				pending++
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "marker: commit corrections")
	}

	sum.Corrected, sum.Pending, sum.Skipped, sum.Skips = corrected, pending, len(skips), skips
	log.Info("corrections committed",
		zap.String("batch_id", sum.BatchID),
		zap.Int("checked", sum.Checked),
		zap.Int("corrected", sum.Corrected),
		zap.Int("pending", sum.Pending),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

func (c *Corrector) apply(ctx context.Context, tx store.Tx, batchID string, it PlanItem) error {
	switch it.Action {
	case ActionCorrect:
		if it.NewE == nil || it.NewN == nil {
			return eris.Errorf("marker %d: correction without new coordinates", it.MarkerID)
		}
		if err := tx.AppendCorrection(ctx, model.CorrectionLogEntry{
			BatchID:  batchID,
			MarkerID: it.MarkerID,
			OldE:     it.OldE,
			OldN:     it.OldN,
			NewE:     *it.NewE,
			NewN:     *it.NewN,
			Reason:   c.cfg.Reason,
			Operator: c.cfg.Operator,
		}); err != nil {
			return err
		}
		return tx.UpdateCoordinates(ctx, store.CoordinateUpdate{
			ID:          it.MarkerID,
			OldE:        it.OldE,
			OldN:        it.OldN,
			NewE:        *it.NewE,
			NewN:        *it.NewN,
			LonOriginal: it.Lon,
			LatOriginal: it.Lat,
		})
	case ActionMarkPending:
		return tx.MarkPending(ctx, it.MarkerID, it.Detail)
	}
	return eris.Errorf("marker %d: unknown action %q", it.MarkerID, it.Action)
}
