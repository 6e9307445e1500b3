package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/memorial-cli/internal/config"
	"github.com/sells-group/memorial-cli/internal/coord"
	"github.com/sells-group/memorial-cli/internal/geodesy"
	"github.com/sells-group/memorial-cli/internal/store"
)

// newProjector builds the configured SIRGAS2000 / UTM projection.
func newProjector(c *config.Config) (*geodesy.TransverseMercator, error) {
	proj, err := geodesy.NewUTM(c.Projection.Zone, c.Projection.South)
	if err != nil {
		return nil, eris.Wrap(err, "projection")
	}
	return proj, nil
}

// newNormalizer wires the projection, classifier and number format hint.
// format overrides the configured number format when not empty.
func newNormalizer(c *config.Config, format string) (*coord.Normalizer, error) {
	proj, err := newProjector(c)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = c.Extract.NumberFormat
	}
	nf, err := coord.ParseNumberFormat(format)
	if err != nil {
		return nil, err
	}

	cls := coord.NewClassifier()
	cls.SeparateLocal = c.Extract.SeparateLocal
	return coord.NewNormalizer(proj, cls, nf), nil
}

// initStore opens the configured marker store. Migrations are not applied.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	proj, err := newProjector(c)
	if err != nil {
		return nil, err
	}
	opts := store.Options{
		SRID:            proj.SRID(),
		MaxConns:        c.Store.MaxConns,
		MinConns:        c.Store.MinConns,
		ConnectAttempts: c.Store.ConnectAttempts,
	}

	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "memorial.db"
		}
		return store.NewSQLite(dsn, opts)
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for postgres (MEMORIAL_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, c.Store.DatabaseURL, opts)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openStore opens the store and applies pending migrations.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	s, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return s, nil
}
