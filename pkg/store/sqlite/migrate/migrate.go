// Package migrate is a minimal file-based migrator for the SQLite stores.
// Migrations are numbered SQL files applied in order inside transactions.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator applies pending migrations and records them in a tracking table.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	tableName  string
}

// New creates a migrator. tableName is the tracking table, e.g.
// "schema_migrations".
func New(db *sql.DB, tableName string) *Migrator {
	return &Migrator{db: db, tableName: tableName}
}

// LoadFromFS loads migrations from a filesystem. Files are named
// 000001_name.up.sql / 000001_name.down.sql.
func (m *Migrator) LoadFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}

		switch {
		case strings.HasSuffix(parts[1], ".up.sql"):
			mig.Name = strings.TrimSuffix(parts[1], ".up.sql")
			mig.Up = string(content)
		case strings.HasSuffix(parts[1], ".down.sql"):
			mig.Down = string(content)
		}
	}

	for _, mig := range byVersion {
		m.migrations = append(m.migrations, *mig)
	}
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
	return nil
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`, m.tableName))
	return err
}

func (m *Migrator) currentVersion() (int, error) {
	var version int
	err := m.db.QueryRow(fmt.Sprintf(
		"SELECT COALESCE(MAX(version), 0) FROM %s", m.tableName,
	)).Scan(&version)
	return version, err
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.ensureTable(); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	current, err := m.currentVersion()
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig, mig.Up, true); err != nil {
			return fmt.Errorf("migration %06d_%s: %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	if err := m.ensureTable(); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	current, err := m.currentVersion()
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	if current == 0 {
		return nil
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		if m.migrations[i].Version == current {
			return m.apply(m.migrations[i], m.migrations[i].Down, false)
		}
	}
	return fmt.Errorf("migration %d not loaded", current)
}

func (m *Migrator) apply(mig Migration, script string, up bool) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if script != "" {
		if _, err := tx.Exec(script); err != nil {
			return err
		}
	}

	if up {
		_, err = tx.Exec(
			fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.tableName),
			mig.Version, mig.Name, time.Now().Unix(),
		)
	} else {
		_, err = tx.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE version = ?", m.tableName),
			mig.Version,
		)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
