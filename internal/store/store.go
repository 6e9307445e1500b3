// Package store persists marker records and the correction log.
package store

import (
	"context"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/memorial-cli/internal/geodesy"
	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/resilience"
)

var (
	// ErrNotFound is returned when a marker does not exist.
	ErrNotFound = eris.New("marker not found")
	// ErrStalePlan is returned by guarded writes when the row no longer holds
	// the values the caller planned against.
	ErrStalePlan = eris.New("marker changed since the plan was made")
)

// MarkerFilter specifies criteria for listing markers.
type MarkerFilter struct {
	Status          model.MarkerStatus `json:"status,omitempty"`
	WithCoordinates bool               `json:"with_coordinates,omitempty"`
	Unvalidated     bool               `json:"unvalidated,omitempty"`
	Limit           int                `json:"limit,omitempty"`
}

// CorrectionFilter specifies criteria for listing correction log entries.
type CorrectionFilter struct {
	MarkerID int64  `json:"marker_id,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// CoordinateUpdate replaces a marker's coordinates. The write only applies
// while the row still holds OldE/OldN.
type CoordinateUpdate struct {
	ID          int64
	OldE, OldN  float64
	NewE, NewN  float64
	LonOriginal *float64
	LatOriginal *float64
}

// Store defines the persistence interface for markers.
type Store interface {
	ListMarkers(ctx context.Context, filter MarkerFilter) ([]model.MarkerRecord, error)
	GetMarker(ctx context.Context, id int64) (*model.MarkerRecord, error)
	// InsertMarkers adds new markers; codes already present are left alone.
	// It returns how many rows were inserted.
	InsertMarkers(ctx context.Context, markers []model.MarkerRecord) (int64, error)
	ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.CorrectionLogEntry, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Migrate(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside WithTx.
type Tx interface {
	UpdateCoordinates(ctx context.Context, u CoordinateUpdate) error
	// MarkPending flags a SURVEYED marker for manual review.
	MarkPending(ctx context.Context, id int64, reason string) error
	SetValidation(ctx context.Context, id int64, valid bool, validationError string, status model.MarkerStatus) error
	AppendCorrection(ctx context.Context, entry model.CorrectionLogEntry) error
	// Savepoint runs fn inside a named savepoint. When fn fails the work
	// since the savepoint is undone, the transaction stays usable and fn's
	// error is returned unchanged.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// Options configures a store backend.
type Options struct {
	// SRID is stamped on the EWKB geometry written next to E/N.
	SRID int

	// Pool sizing, Postgres only.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// ConnectAttempts bounds the retries of the initial connection check.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

func (o Options) retry(driver string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig().WithAttempts(o.ConnectAttempts)
	cfg.OnRetry = resilience.RetryLogger(driver, "connect")
	return cfg
}

func (o Options) srid() int {
	if o.SRID == 0 {
		return geodesy.MustUTM(geodesy.DefaultZone, true).SRID()
	}
	return o.SRID
}

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func checkSavepoint(name string) error {
	if !savepointName.MatchString(name) {
		return eris.Errorf("store: invalid savepoint name %q", name)
	}
	return nil
}

// savepoint wraps fn in SAVEPOINT / ROLLBACK TO / RELEASE using exec. The
// statements are plain SQL accepted by both Postgres and SQLite.
func savepoint(ctx context.Context, exec func(context.Context, string) error, name string, fn func() error) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	if err := exec(ctx, "SAVEPOINT "+name); err != nil {
		return eris.Wrapf(err, "store: savepoint %s", name)
	}

	if fnErr := fn(); fnErr != nil {
		if err := exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return eris.Wrapf(err, "store: rollback to savepoint %s", name)
		}
		if err := exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return eris.Wrapf(err, "store: release savepoint %s", name)
		}
		return fnErr
	}

	return eris.Wrapf(exec(ctx, "RELEASE SAVEPOINT "+name), "store: release savepoint %s", name)
}

// geometry encodes the EWKB point stored alongside E/N; nil when either
// coordinate is missing.
func geometry(e, n *float64, srid int) ([]byte, error) {
	if e == nil || n == nil {
		return nil, nil
	}
	return geodesy.EncodePoint(*e, *n, srid)
}

type scannable interface {
	Scan(dest ...any) error
}

const markerColumns = `id, code, type, e, n, validated, validation_error, status, source, lon_original, lat_original, created_at, updated_at`

func scanMarker(row scannable) (*model.MarkerRecord, error) {
	var (
		m             model.MarkerRecord
		typ, status   string
		validationErr *string
	)
	err := row.Scan(&m.ID, &m.Code, &typ, &m.E, &m.N, &m.Validated, &validationErr,
		&status, &m.Source, &m.LonOriginal, &m.LatOriginal, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MarkerType(typ)
	m.Status = model.MarkerStatus(status)
	if validationErr != nil {
		m.ValidationError = *validationErr
	}
	return &m, nil
}

const correctionColumns = `id, batch_id, marker_id, old_e, old_n, new_e, new_n, reason, operator, created_at`

func scanCorrection(row scannable) (*model.CorrectionLogEntry, error) {
	var c model.CorrectionLogEntry
	err := row.Scan(&c.ID, &c.BatchID, &c.MarkerID, &c.OldE, &c.OldN, &c.NewE, &c.NewN,
		&c.Reason, &c.Operator, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
