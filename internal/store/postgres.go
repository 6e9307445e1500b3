package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/db"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/resilience"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	srid    int
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	if opts.MaxConns > 0 {
		pgxCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pgxCfg.MinConns = opts.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := resilience.Do(ctx, opts.retry("postgres"), pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, srid: opts.srid(), closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, srid: opts.srid(), closeFn: pool.Close}
}

// Migrate applies pending migrations under an advisory lock so overlapping
// runs do not race.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock(31982)"); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock(31982)"); err != nil {
			log.Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", m.name)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())`, m.name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", m.name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListMarkers(ctx context.Context, filter MarkerFilter) ([]model.MarkerRecord, error) {
	query := `SELECT ` + markerColumns + ` FROM markers WHERE true`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.WithCoordinates {
		query += ` AND e IS NOT NULL AND n IS NOT NULL`
	}
	if filter.Unvalidated {
		query += ` AND validated IS NULL`
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list markers")
	}
	defer rows.Close()

	var markers []model.MarkerRecord
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan marker")
		}
		markers = append(markers, *m)
	}
	return markers, eris.Wrap(rows.Err(), "postgres: list markers iterate")
}

func (s *PostgresStore) GetMarker(ctx context.Context, id int64) (*model.MarkerRecord, error) {
	m, err := scanMarker(s.pool.QueryRow(ctx,
		`SELECT `+markerColumns+` FROM markers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get marker %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get marker %d", id)
	}
	return m, nil
}

var markerInsertColumns = []string{
	"code", "type", "e", "n", "geom", "validated", "validation_error",
	"status", "source", "lon_original", "lat_original", "created_at", "updated_at",
}

func (s *PostgresStore) InsertMarkers(ctx context.Context, markers []model.MarkerRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(markers))
	for _, m := range markers {
		geom, err := geometry(m.E, m.N, s.srid)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode geometry for %s", m.Code)
		}
		rows = append(rows, []any{
			m.Code, string(m.Type), m.E, m.N, geom, m.Validated, nullable(m.ValidationError),
			string(m.Status), m.Source, m.LonOriginal, m.LatOriginal, now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "markers",
		Columns:         markerInsertColumns,
		ConflictKeys:    []string{"code"},
		IgnoreConflicts: true,
	}, rows)
	return n, eris.Wrap(err, "postgres: insert markers")
}

func (s *PostgresStore) ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.CorrectionLogEntry, error) {
	query := `SELECT ` + correctionColumns + ` FROM correction_log WHERE true`
	var args []any
	argIdx := 1

	if filter.MarkerID > 0 {
		query += fmt.Sprintf(` AND marker_id = $%d`, argIdx)
		args = append(args, filter.MarkerID)
		argIdx++
	}
	if filter.BatchID != "" {
		query += fmt.Sprintf(` AND batch_id = $%d`, argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var entries []model.CorrectionLogEntry
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		entries = append(entries, *c)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, srid: s.srid}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	tx   pgx.Tx
	srid int
}

func (t *pgTx) UpdateCoordinates(ctx context.Context, u CoordinateUpdate) error {
	geom, err := geometry(&u.NewE, &u.NewN, t.srid)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode geometry for marker %d", u.ID)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE markers SET e = $1, n = $2, geom = $3, lon_original = $4, lat_original = $5,
		validated = true, validation_error = NULL, updated_at = $6
		WHERE id = $7 AND e = $8 AND n = $9`,
		u.NewE, u.NewN, geom, u.LonOriginal, u.LatOriginal, time.Now().UTC(), u.ID, u.OldE, u.OldN,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update coordinates for marker %d", u.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStalePlan, "postgres: update coordinates for marker %d", u.ID)
	}
	return nil
}

func (t *pgTx) MarkPending(ctx context.Context, id int64, reason string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markers SET status = $1, validated = false, validation_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(model.MarkerStatusPending), reason, time.Now().UTC(), id, string(model.MarkerStatusSurveyed),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark marker %d pending", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrStalePlan, "postgres: mark marker %d pending", id)
	}
	return nil
}

func (t *pgTx) SetValidation(ctx context.Context, id int64, valid bool, validationError string, status model.MarkerStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markers SET validated = $1, validation_error = $2, status = $3, updated_at = $4 WHERE id = $5`,
		valid, nullable(validationError), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set validation for marker %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: set validation for marker %d", id)
	}
	return nil
}

func (t *pgTx) AppendCorrection(ctx context.Context, c model.CorrectionLogEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO correction_log (batch_id, marker_id, old_e, old_n, new_e, new_n, reason, operator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.BatchID, c.MarkerID, c.OldE, c.OldN, c.NewE, c.NewN, c.Reason, c.Operator, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append correction for marker %d", c.MarkerID)
}

func (t *pgTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	return savepoint(ctx, func(ctx context.Context, sql string) error {
		_, err := t.tx.Exec(ctx, sql)
		return err
	}, name, fn)
}
