// Package migrate applies versioned SQL schema migrations to a SQLite
// database. Migrations are read from an fs.FS (usually embedded) holding
// files named NNN_description.up.sql and NNN_description.down.sql.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Migration is one schema version.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

var fileRegex = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// Load reads every migration in the root of fsys, sorted by version.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		m := fileRegex.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version in %s: %w", e.Name(), err)
		}
		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version, Name: strings.ReplaceAll(m[2], "_", " ")}
			byVersion[version] = mig
		}
		if m[3] == "up" {
			mig.Up = string(content)
		} else {
			mig.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator tracks the applied version in a bookkeeping table.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	table      string
	logger     *zap.SugaredLogger
}

// NewMigrator returns a migrator for db. table defaults to
// schema_migrations.
func NewMigrator(db *sql.DB, migrations []Migration, table string, logger *zap.SugaredLogger) *Migrator {
	if table == "" {
		table = "schema_migrations"
	}
	return &Migrator{db: db, migrations: migrations, table: table, logger: logger}
}

// Version returns the highest applied version, 0 for a fresh database.
func (m *Migrator) Version() (int, error) {
	if err := m.ensureTable(); err != nil {
		return 0, err
	}
	var v int
	if err := m.db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", m.table)).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up() error {
	current, err := m.Version()
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig.Version, mig.Name, mig.Up, mig.Version); err != nil {
			return err
		}
	}
	return nil
}

// Down reverts migrations until the schema is at target.
func (m *Migrator) Down(target int) error {
	current, err := m.Version()
	if err != nil {
		return err
	}
	if target >= current {
		return fmt.Errorf("target version %d must be below current version %d", target, current)
	}
	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version <= target || mig.Version > current {
			continue
		}
		if err := m.apply(mig.Version, mig.Name, mig.Down, mig.Version-1); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`, m.table))
	if err != nil {
		return fmt.Errorf("creating %s: %w", m.table, err)
	}
	return nil
}

func (m *Migrator) apply(version int, name, stmt string, newVersion int) error {
	if stmt == "" {
		return fmt.Errorf("migration %d (%s) has no SQL for this direction", version, name)
	}
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("migration %d (%s): %w", version, name, err)
	}
	if newVersion < version {
		_, err = tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE version >= ?", m.table), version)
	} else {
		_, err = tx.Exec(fmt.Sprintf("INSERT OR REPLACE INTO %s (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)", m.table), version)
	}
	if err != nil {
		return fmt.Errorf("recording schema version %d: %w", newVersion, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	m.logger.Infof("schema migration %d (%s) applied, now at version %d", version, name, newVersion)
	return nil
}
