package marker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/geodesy"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "markers.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestNormalizer() *coord.Normalizer {
	return coord.NewNormalizer(geodesy.MustUTM(22, true), nil, coord.FormatAuto)
}

// seed inserts markers and returns them keyed by code.
func seed(t *testing.T, s store.Store, markers ...model.MarkerRecord) map[string]model.MarkerRecord {
	t.Helper()
	ctx := context.Background()
	for i := range markers {
		if markers[i].Status == "" {
			markers[i].Status = model.MarkerStatusSurveyed
		}
		if markers[i].Type == "" {
			markers[i].Type = model.InferMarkerType(markers[i].Code)
		}
	}
	n, err := s.InsertMarkers(ctx, markers)
	require.NoError(t, err)
	require.EqualValues(t, len(markers), n)

	all, err := s.ListMarkers(ctx, store.MarkerFilter{})
	require.NoError(t, err)
	out := make(map[string]model.MarkerRecord, len(all))
	for _, m := range all {
		out[m.Code] = m
	}
	return out
}

func correctionFixture(t *testing.T, s store.Store) map[string]model.MarkerRecord {
	return seed(t, s,
		model.MarkerRecord{Code: "V01", E: ptr(-49.47), N: ptr(-25.32)},
		model.MarkerRecord{Code: "V02", E: ptr(0.0), N: ptr(0.0)},
		model.MarkerRecord{Code: "V03", E: ptr(672338.25), N: ptr(7187922.29)},
		model.MarkerRecord{Code: "V04", E: ptr(10.0), N: ptr(40.0)},
		model.MarkerRecord{Code: "V05"},
		model.MarkerRecord{Code: "V06", E: ptr(-49.0), N: ptr(-25.0), Status: model.MarkerStatusPending},
	)
}

func itemsByCode(plan *CorrectionPlan) map[string]PlanItem {
	out := make(map[string]PlanItem, len(plan.Items))
	for _, it := range plan.Items {
		out[it.Code] = it
	}
	return out
}

func TestCorrector_Plan(t *testing.T) {
	s := newTestStore(t)
	correctionFixture(t, s)
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{})

	plan, err := c.Plan(context.Background(), store.MarkerFilter{})
	require.NoError(t, err)

	// V05 has no coordinates and V06 is not SURVEYED.
	require.Len(t, plan.Items, 4)
	items := itemsByCode(plan)

	v01 := items["V01"]
	assert.Equal(t, model.ClassGeographicMistaken, v01.Classification)
	assert.Equal(t, ActionCorrect, v01.Action)
	assert.Equal(t, model.ClassProjectedValid, v01.Result)
	require.NotNil(t, v01.NewE)
	require.NotNil(t, v01.NewN)
	assert.InDelta(t, 654001.267, *v01.NewE, 0.05)
	assert.InDelta(t, 7198738.827, *v01.NewN, 0.05)
	require.NotNil(t, v01.Lon)
	assert.InDelta(t, -49.47, *v01.Lon, 1e-12)

	assert.Equal(t, model.ClassNullValues, items["V02"].Classification)
	assert.Equal(t, ActionUnchanged, items["V02"].Action)
	assert.Nil(t, items["V02"].NewE)

	assert.Equal(t, model.ClassProjectedValid, items["V03"].Classification)
	assert.Equal(t, ActionUnchanged, items["V03"].Action)

	v04 := items["V04"]
	assert.Equal(t, ActionMarkPending, v04.Action)
	assert.Equal(t, model.ClassConversionFailed, v04.Result)
	assert.Contains(t, v04.Detail, string(model.ClassConversionFailed))
	assert.Nil(t, v04.NewE)

	assert.Equal(t, map[Action]int{ActionCorrect: 1, ActionUnchanged: 2, ActionMarkPending: 1}, plan.Actions)
	assert.Len(t, plan.Actionable(), 2)
}

func TestCorrector_Plan_IsDryRun(t *testing.T) {
	s := newTestStore(t)
	before := correctionFixture(t, s)
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{})
	ctx := context.Background()

	_, err := c.Plan(ctx, store.MarkerFilter{})
	require.NoError(t, err)

	after, err := s.ListMarkers(ctx, store.MarkerFilter{})
	require.NoError(t, err)
	for _, m := range after {
		assert.Equal(t, before[m.Code].E, m.E, m.Code)
		assert.Equal(t, before[m.Code].Status, m.Status, m.Code)
	}
	entries, err := s.ListCorrections(ctx, store.CorrectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCorrector_Plan_Limit(t *testing.T) {
	s := newTestStore(t)
	correctionFixture(t, s)
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{})

	plan, err := c.Plan(context.Background(), store.MarkerFilter{Limit: 2, Status: model.MarkerStatusPending})
	require.NoError(t, err)
	require.Len(t, plan.Items, 2)
	assert.Equal(t, "V01", plan.Items[0].Code)
}

func TestCorrector_Commit(t *testing.T) {
	s := newTestStore(t)
	seeded := correctionFixture(t, s)
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{Operator: "alice"})
	ctx := context.Background()

	plan, err := c.Plan(ctx, store.MarkerFilter{})
	require.NoError(t, err)
	sum, err := c.Commit(ctx, plan)
	require.NoError(t, err)

	assert.NotEmpty(t, sum.BatchID)
	assert.Equal(t, 4, sum.Checked)
	assert.Equal(t, 2, sum.Unchanged)
	assert.Equal(t, 1, sum.Corrected)
	assert.Equal(t, 1, sum.Pending)
	assert.Zero(t, sum.Skipped)
	assert.Equal(t, 2, sum.ByClassification[model.ClassGeographicMistaken])
	assert.Equal(t, 1, sum.ByClassification[model.ClassNullValues])
	assert.Equal(t, 1, sum.ByClassification[model.ClassProjectedValid])

	// The mis-encoded record is rewritten and logged.
	v01, err := s.GetMarker(ctx, seeded["V01"].ID)
	require.NoError(t, err)
	assert.InDelta(t, 654001.267, *v01.E, 0.05)
	assert.InDelta(t, 7198738.827, *v01.N, 0.05)
	assert.Equal(t, model.ClassProjectedValid,
		coord.NewClassifier().Classify(*v01.E, *v01.N, model.KindProjected))
	require.NotNil(t, v01.LonOriginal)
	assert.InDelta(t, -49.47, *v01.LonOriginal, 1e-12)
	assert.Equal(t, model.MarkerStatusSurveyed, v01.Status)

	entries, err := s.ListCorrections(ctx, store.CorrectionFilter{MarkerID: v01.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sum.BatchID, entries[0].BatchID)
	assert.InDelta(t, -49.47, entries[0].OldE, 1e-12)
	assert.InDelta(t, -25.32, entries[0].OldN, 1e-12)
	assert.InDelta(t, *v01.E, entries[0].NewE, 1e-9)
	assert.Equal(t, DefaultReason("SIRGAS2000 / UTM 22S"), entries[0].Reason)
	assert.Equal(t, "alice", entries[0].Operator)

	// A null pair is not a mis-encoding and is left alone.
	v02, err := s.GetMarker(ctx, seeded["V02"].ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, *v02.E, 0)
	assert.Equal(t, model.MarkerStatusSurveyed, v02.Status)

	// An unresolvable pair keeps its coordinates and goes to review.
	v04, err := s.GetMarker(ctx, seeded["V04"].ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, *v04.E, 0)
	assert.Equal(t, model.MarkerStatusPending, v04.Status)
	require.NotNil(t, v04.Validated)
	assert.False(t, *v04.Validated)
	assert.NotEmpty(t, v04.ValidationError)

	all, err := s.ListCorrections(ctx, store.CorrectionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCorrector_Commit_StaleRecordSkipped(t *testing.T) {
	s := newTestStore(t)
	seeded := correctionFixture(t, s)
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{})
	ctx := context.Background()

	plan, err := c.Plan(ctx, store.MarkerFilter{})
	require.NoError(t, err)

	// V01 is fixed by someone else between plan and commit.
	v01 := seeded["V01"]
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateCoordinates(ctx, store.CoordinateUpdate{
			ID: v01.ID, OldE: *v01.E, OldN: *v01.N, NewE: 654000, NewN: 7198700,
		})
	}))

	sum, err := c.Commit(ctx, plan)
	require.NoError(t, err)
	assert.Zero(t, sum.Corrected)
	assert.Equal(t, 1, sum.Pending)
	require.Equal(t, 1, sum.Skipped)
	assert.Equal(t, v01.ID, sum.Skips[0].MarkerID)
	assert.Equal(t, ActionCorrect, sum.Skips[0].Action)
	assert.Contains(t, sum.Skips[0].Reason, "changed since the plan")

	// The log entry written before the stale update was rolled back with it.
	entries, err := s.ListCorrections(ctx, store.CorrectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err := s.GetMarker(ctx, v01.ID)
	require.NoError(t, err)
	assert.InDelta(t, 654000.0, *got.E, 0)

	v04, err := s.GetMarker(ctx, seeded["V04"].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MarkerStatusPending, v04.Status)
}

func TestCorrector_Commit_NothingToDo(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, model.MarkerRecord{Code: "V03", E: ptr(672338.25), N: ptr(7187922.29)})
	c := NewCorrector(s, newTestNormalizer(), CorrectorConfig{})
	ctx := context.Background()

	plan, err := c.Plan(ctx, store.MarkerFilter{})
	require.NoError(t, err)
	sum, err := c.Commit(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Zero(t, sum.Corrected+sum.Pending+sum.Skipped)
}

// brokenStore fails every savepoint release after the record work ran.
type brokenStore struct {
	*store.SQLiteStore
}

func (b brokenStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	return b.SQLiteStore.WithTx(ctx, func(tx store.Tx) error {
		return fn(brokenTx{Tx: tx})
	})
}

type brokenTx struct {
	store.Tx
}

func (brokenTx) Savepoint(_ context.Context, _ string, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	return eris.New("store: release savepoint: connection reset")
}

func TestCorrector_Commit_InfrastructureFailureAbortsBatch(t *testing.T) {
	s := newTestStore(t)
	seeded := correctionFixture(t, s)
	c := NewCorrector(brokenStore{SQLiteStore: s}, newTestNormalizer(), CorrectorConfig{})
	ctx := context.Background()

	plan, err := c.Plan(ctx, store.MarkerFilter{})
	require.NoError(t, err)
	_, err = c.Commit(ctx, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	v01, err := s.GetMarker(ctx, seeded["V01"].ID)
	require.NoError(t, err)
	assert.InDelta(t, -49.47, *v01.E, 0)

	v04, err := s.GetMarker(ctx, seeded["V04"].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MarkerStatusSurveyed, v04.Status)

	entries, err := s.ListCorrections(ctx, store.CorrectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewCorrector_Defaults(t *testing.T) {
	c := NewCorrector(nil, newTestNormalizer(), CorrectorConfig{})
	assert.Equal(t, DefaultOperator, c.cfg.Operator)
	assert.Equal(t, DefaultReason("SIRGAS2000 / UTM 22S"), c.cfg.Reason)

	c = NewCorrector(nil, newTestNormalizer(), CorrectorConfig{Operator: "bob", Reason: "manual"})
	assert.Equal(t, "bob", c.cfg.Operator)
	assert.Equal(t, "manual", c.cfg.Reason)
}

func TestNewCorrector_ReasonFollowsZone(t *testing.T) {
	norm := coord.NewNormalizer(geodesy.MustUTM(23, true), nil, coord.FormatAuto)
	c := NewCorrector(nil, norm, CorrectorConfig{})
	assert.Equal(t, "geographic coordinates stored as projected; reprojected to SIRGAS2000 / UTM 23S", c.cfg.Reason)

	c = NewCorrector(nil, nil, CorrectorConfig{})
	assert.Equal(t, DefaultReason(DefaultCRS), c.cfg.Reason)
}
