package marker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

func validationFixture(t *testing.T, s store.Store) map[string]model.MarkerRecord {
	return seed(t, s,
		model.MarkerRecord{Code: "V01", E: ptr(-49.47), N: ptr(-25.32)},
		model.MarkerRecord{Code: "V02", E: ptr(0.0), N: ptr(0.0)},
		model.MarkerRecord{Code: "V03", E: ptr(672338.25), N: ptr(7187922.29)},
		model.MarkerRecord{Code: "V05"},
		model.MarkerRecord{Code: "V06", E: ptr(9e8), N: ptr(9e8)},
		model.MarkerRecord{Code: "V07", E: ptr(950000.0), N: ptr(500.0)},
	)
}

func TestValidator_Run(t *testing.T) {
	s := newTestStore(t)
	seeded := validationFixture(t, s)
	ctx := context.Background()

	sum, err := NewValidator(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Checked)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 5, sum.Invalid)
	assert.Equal(t, 4, sum.Pending)
	assert.Equal(t, 2, sum.ByClassification[model.ClassNullValues])
	assert.Equal(t, 1, sum.ByClassification[model.ClassAbsurdValues])
	assert.Equal(t, 1, sum.ByClassification[model.ClassOutOfRange])

	tests := []struct {
		code   string
		valid  bool
		status model.MarkerStatus
		reason string
	}{
		{"V01", false, model.MarkerStatusSurveyed, string(model.ClassGeographicMistaken)},
		{"V02", false, model.MarkerStatusPending, string(model.ClassNullValues)},
		{"V03", true, model.MarkerStatusSurveyed, ""},
		{"V05", false, model.MarkerStatusPending, string(model.ClassNullValues)},
		{"V06", false, model.MarkerStatusPending, string(model.ClassAbsurdValues)},
		{"V07", false, model.MarkerStatusPending, string(model.ClassOutOfRange)},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			m, err := s.GetMarker(ctx, seeded[tt.code].ID)
			require.NoError(t, err)
			require.NotNil(t, m.Validated)
			assert.Equal(t, tt.valid, *m.Validated)
			assert.Equal(t, tt.status, m.Status)
			assert.Equal(t, tt.reason, m.ValidationError)
		})
	}
}

func TestValidator_Run_OncePerPass(t *testing.T) {
	s := newTestStore(t)
	validationFixture(t, s)
	ctx := context.Background()
	v := NewValidator(s, nil)

	_, err := v.Run(ctx, false)
	require.NoError(t, err)

	sum, err := v.Run(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, sum.Checked)

	sum, err = v.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Checked)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 4, sum.Pending)
}

func TestValidator_Run_SeparateLocal(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, model.MarkerRecord{Code: "L01", E: ptr(5000.0), N: ptr(8000.0)})
	ctx := context.Background()

	cls := coord.NewClassifier()
	cls.SeparateLocal = true
	sum, err := NewValidator(s, cls).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Valid)
	assert.Equal(t, 1, sum.ByClassification[model.ClassLocalValid])
}

func TestValidator_Run_Empty(t *testing.T) {
	s := newTestStore(t)
	sum, err := NewValidator(s, nil).Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, sum.Checked)
}
