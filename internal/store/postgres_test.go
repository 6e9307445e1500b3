package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/memorial-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock, srid: 31982}, mock
}

var markerColumnNames = []string{
	"id", "code", "type", "e", "n", "validated", "validation_error",
	"status", "source", "lon_original", "lat_original", "created_at", "updated_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock\(31982\)`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_markers.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS correction_log`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("002_correction_log.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(31982\)`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_ApplyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS markers`).WillReturnError(errors.New("permission denied"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_markers.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMarkers(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, code, type, e, n, .* FROM markers WHERE true AND status = \$1 AND e IS NOT NULL AND n IS NOT NULL ORDER BY id LIMIT \$2`).
		WithArgs("SURVEYED", 10).
		WillReturnRows(pgxmock.NewRows(markerColumnNames).
			AddRow(int64(1), "FHV-M-0001", "M", ptr(-49.47), ptr(-25.32), nil, nil,
				"SURVEYED", "a.txt", nil, nil, now, now).
			AddRow(int64(2), "FHV-V-0002", "V", ptr(672338.25), ptr(7187922.29), ptr(false), ptr("OUT_OF_RANGE"),
				"SURVEYED", "", nil, nil, now, now))

	got, err := s.ListMarkers(context.Background(), MarkerFilter{
		Status: model.MarkerStatusSurveyed, WithCoordinates: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.MarkerTypeMark, got[0].Type)
	assert.Equal(t, model.MarkerStatusSurveyed, got[0].Status)
	require.NotNil(t, got[0].E)
	assert.InDelta(t, -49.47, *got[0].E, 1e-12)
	assert.Nil(t, got[0].Validated)
	assert.Empty(t, got[0].ValidationError)

	require.NotNil(t, got[1].Validated)
	assert.False(t, *got[1].Validated)
	assert.Equal(t, "OUT_OF_RANGE", got[1].ValidationError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMarkers_Unvalidated(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM markers WHERE true AND validated IS NULL ORDER BY id$`).
		WillReturnRows(pgxmock.NewRows(markerColumnNames))

	got, err := s.ListMarkers(context.Background(), MarkerFilter{Unvalidated: true})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMarker_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM markers WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMarker(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertMarkers(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_markers" \(LIKE "markers" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_markers"}, markerInsertColumns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("code"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertMarkers(context.Background(), []model.MarkerRecord{
		{Code: "FHV-V-0001", Type: model.MarkerTypeVertex, E: ptr(672338.25), N: ptr(7187922.29), Status: model.MarkerStatusSurveyed},
		{Code: "FHV-V-0002", Type: model.MarkerTypeVertex, Status: model.MarkerStatusSurveyed},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCorrections(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM correction_log WHERE true AND marker_id = \$1 ORDER BY id`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "batch_id", "marker_id", "old_e", "old_n", "new_e", "new_n", "reason", "operator", "created_at",
		}).AddRow(int64(1), "batch-1", int64(7), -49.47, -25.32, 654001.267, 7198738.827, "reprojected", "alice", now))

	got, err := s.ListCorrections(context.Background(), CorrectionFilter{MarkerID: 7})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "batch-1", got[0].BatchID)
	assert.InDelta(t, 654001.267, got[0].NewE, 1e-9)
	assert.Equal(t, now, got[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE markers SET e = \$1, n = \$2, geom = \$3`).
		WithArgs(654001.267, 7198738.827, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), int64(1), -49.47, -25.32).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO correction_log`).
		WithArgs("batch-1", int64(1), -49.47, -25.32, 654001.267, 7198738.827, "reprojected", "alice", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.UpdateCoordinates(ctx, CoordinateUpdate{
			ID: 1, OldE: -49.47, OldN: -25.32, NewE: 654001.267, NewN: 7198738.827,
			LonOriginal: ptr(-49.47), LatOriginal: ptr(-25.32),
		}); err != nil {
			return err
		}
		return tx.AppendCorrection(ctx, model.CorrectionLogEntry{
			BatchID: "batch-1", MarkerID: 1, OldE: -49.47, OldN: -25.32,
			NewE: 654001.267, NewN: 7198738.827, Reason: "reprojected", Operator: "alice",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_StaleUpdateRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE markers SET e = \$1`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	ctx := context.Background()
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateCoordinates(ctx, CoordinateUpdate{ID: 1, OldE: 1, OldN: 2, NewE: 3, NewN: 4})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStalePlan))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetValidation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE markers SET validated = \$1, validation_error = \$2, status = \$3`).
		WithArgs(false, ptr("NULL_VALUES"), "PENDING", pgxmock.AnyArg(), int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	ctx := context.Background()
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SetValidation(ctx, 9, false, "NULL_VALUES", model.MarkerStatusPending)
	})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Savepoint_RecordFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`^SAVEPOINT marker_7$`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`UPDATE markers SET status = \$1`).
		WithArgs("PENDING", "no valid reprojection", pgxmock.AnyArg(), int64(7), "SURVEYED").
		WillReturnError(errors.New("check constraint violated"))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT marker_7$`).WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec(`^RELEASE SAVEPOINT marker_7$`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	ctx := context.Background()
	var recordErr error
	err := s.WithTx(ctx, func(tx Tx) error {
		recordErr = tx.Savepoint(ctx, "marker_7", func() error {
			return tx.MarkPending(ctx, 7, "no valid reprojection")
		})
		return nil
	})
	require.NoError(t, err)
	require.Error(t, recordErr)
	assert.Contains(t, recordErr.Error(), "mark marker 7 pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Savepoint_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`^SAVEPOINT marker_8$`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`UPDATE markers SET status = \$1`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT marker_8$`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	ctx := context.Background()
	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.Savepoint(ctx, "marker_8", func() error {
			return tx.MarkPending(ctx, 8, "x")
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSavepoint(t *testing.T) {
	assert.NoError(t, checkSavepoint("marker_12"))
	assert.NoError(t, checkSavepoint("_x"))
	assert.Error(t, checkSavepoint(""))
	assert.Error(t, checkSavepoint("1abc"))
	assert.Error(t, checkSavepoint("Marker"))
	assert.Error(t, checkSavepoint("a; DROP TABLE markers"))
}
