package repository

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// MigrationState is one migration file and whether it has been applied
type MigrationState struct {
	Version string
	Applied bool
}

// RunMigrations applies the *.up.sql files of migrations in name order,
// recording each applied version in schema_migrations.
func RunMigrations(db *sqlx.DB, migrations fs.FS, trackingDDL string) error {
	states, err := MigrationStatus(db, migrations, trackingDDL)
	if err != nil {
		return err
	}

	for _, st := range states {
		if st.Applied {
			continue
		}

		file := st.Version + ".up.sql"
		content, err := fs.ReadFile(migrations, file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		log.WithField("migration", file).Info("applying migration")

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}

		if _, err := db.Exec(db.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), st.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", st.Version, err)
		}
	}

	return nil
}

// MigrationStatus lists every migration in migrations in name order
func MigrationStatus(db *sqlx.DB, migrations fs.FS, trackingDDL string) ([]MigrationState, error) {
	if _, err := db.Exec(trackingDDL); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(entry.Name(), ".up.sql"))
	}
	sort.Strings(versions)

	var applied []string
	if err := db.Select(&applied, `SELECT version FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	states := make([]MigrationState, 0, len(versions))
	for _, v := range versions {
		states = append(states, MigrationState{Version: v, Applied: done[v]})
	}
	return states, nil
}
