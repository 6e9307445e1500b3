package store

import (
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/rotisserie/eris"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

type migration struct {
	name string
	sql  string
}

// loadMigrations returns the dialect's migration files in lexicographic
// (zero-padded numeric) order.
func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s migrations", dialect)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		data, err := migrationFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "store: read migration %s", e.Name())
		}
		out = append(out, migration{name: e.Name(), sql: string(data)})
	}
	return out, nil
}
