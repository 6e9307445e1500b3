package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	srid int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	pragmas := func(ctx context.Context) error {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				return eris.Wrapf(err, "sqlite: exec %s", pragma)
			}
		}
		return nil
	}
	if err := resilience.Do(context.Background(), opts.retry("sqlite"), pragmas); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, srid: opts.srid()}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return eris.Wrap(err, "sqlite: query applied migrations")
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate migrations")
	}

	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.name)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`, m.name, time.Now().UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListMarkers(ctx context.Context, filter MarkerFilter) ([]model.MarkerRecord, error) {
	query := `SELECT ` + markerColumns + ` FROM markers WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WithCoordinates {
		query += ` AND e IS NOT NULL AND n IS NOT NULL`
	}
	if filter.Unvalidated {
		query += ` AND validated IS NULL`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list markers")
	}
	defer rows.Close()

	var markers []model.MarkerRecord
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan marker")
		}
		markers = append(markers, *m)
	}
	return markers, eris.Wrap(rows.Err(), "sqlite: list markers iterate")
}

func (s *SQLiteStore) GetMarker(ctx context.Context, id int64) (*model.MarkerRecord, error) {
	m, err := scanMarker(s.db.QueryRowContext(ctx,
		`SELECT `+markerColumns+` FROM markers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get marker %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get marker %d", id)
	}
	return m, nil
}

func (s *SQLiteStore) InsertMarkers(ctx context.Context, markers []model.MarkerRecord) (int64, error) {
	if len(markers) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert markers")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var inserted int64
	for _, m := range markers {
		geom, err := geometry(m.E, m.N, s.srid)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: encode geometry for %s", m.Code)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO markers (code, type, e, n, geom, validated, validation_error, status, source,
			lon_original, lat_original, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code) DO NOTHING`,
			m.Code, string(m.Type), m.E, m.N, geom, m.Validated, nullable(m.ValidationError),
			string(m.Status), m.Source, m.LonOriginal, m.LatOriginal, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert marker %s", m.Code)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert markers")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.CorrectionLogEntry, error) {
	query := `SELECT ` + correctionColumns + ` FROM correction_log WHERE 1=1`
	var args []any

	if filter.MarkerID > 0 {
		query += ` AND marker_id = ?`
		args = append(args, filter.MarkerID)
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var entries []model.CorrectionLogEntry
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		entries = append(entries, *c)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx, srid: s.srid}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// sqliteTx implements Tx on a database/sql transaction.
type sqliteTx struct {
	tx   *sql.Tx
	srid int
}

func (t *sqliteTx) UpdateCoordinates(ctx context.Context, u CoordinateUpdate) error {
	geom, err := geometry(&u.NewE, &u.NewN, t.srid)
	if err != nil {
		return eris.Wrapf(err, "sqlite: encode geometry for marker %d", u.ID)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE markers SET e = ?, n = ?, geom = ?, lon_original = ?, lat_original = ?,
		validated = 1, validation_error = NULL, updated_at = ?
		WHERE id = ? AND e = ? AND n = ?`,
		u.NewE, u.NewN, geom, u.LonOriginal, u.LatOriginal, time.Now().UTC(), u.ID, u.OldE, u.OldN,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update coordinates for marker %d", u.ID)
	}
	return affected(res, ErrStalePlan, "sqlite: update coordinates for marker %d", u.ID)
}

func (t *sqliteTx) MarkPending(ctx context.Context, id int64, reason string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE markers SET status = ?, validated = 0, validation_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.MarkerStatusPending), reason, time.Now().UTC(), id, string(model.MarkerStatusSurveyed),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark marker %d pending", id)
	}
	return affected(res, ErrStalePlan, "sqlite: mark marker %d pending", id)
}

func (t *sqliteTx) SetValidation(ctx context.Context, id int64, valid bool, validationError string, status model.MarkerStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE markers SET validated = ?, validation_error = ?, status = ?, updated_at = ? WHERE id = ?`,
		valid, nullable(validationError), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set validation for marker %d", id)
	}
	return affected(res, ErrNotFound, "sqlite: set validation for marker %d", id)
}

func (t *sqliteTx) AppendCorrection(ctx context.Context, c model.CorrectionLogEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO correction_log (batch_id, marker_id, old_e, old_n, new_e, new_n, reason, operator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.BatchID, c.MarkerID, c.OldE, c.OldN, c.NewE, c.NewN, c.Reason, c.Operator, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append correction for marker %d", c.MarkerID)
}

func (t *sqliteTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	return savepoint(ctx, func(ctx context.Context, stmt string) error {
		_, err := t.tx.ExecContext(ctx, stmt)
		return err
	}, name, fn)
}

// affected maps a zero-row write to sentinel.
func affected(res sql.Result, sentinel error, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(sentinel, format, args...)
	}
	return nil
}
