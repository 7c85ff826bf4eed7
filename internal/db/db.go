package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations is the schema shipped with the binary.
var Migrations fs.FS = mustSub(embedded, "migrations")

func mustSub(f fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Dialect names the SQL flavour behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// containsIgnoreCase returns true if s contains substr (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// DB wraps the database connection
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to postgres (dsn is a connection URL) or sqlite (dsn is a
// file path).
func Open(dialect Dialect, dsn string) (*DB, error) {
	switch dialect {
	case Postgres:
		return openPostgres(dsn)
	case SQLite:
		return openSQLite(dsn)
	}
	return nil, errors.Errorf("unsupported dialect %q", dialect)
}

func openPostgres(connectionString string) (*DB, error) {
	if connectionString == "" {
		return nil, errors.New("database connection string is required")
	}

	sqlDB, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := sqlDB.Ping(); err != nil {
		// Retry with SSL disabled when the URL does not pick a mode.
		if !containsIgnoreCase(connectionString, "sslmode") {
			log.Info().Msg("retrying database connection with SSL disabled")
			sqlDB.Close()
			sslDisabled := connectionString
			if strings.Contains(connectionString, "?") {
				sslDisabled += "&sslmode=disable"
			} else {
				sslDisabled += "?sslmode=disable"
			}
			sqlDB, err = sql.Open("postgres", sslDisabled)
			if err != nil {
				return nil, errors.Wrap(err, "open database")
			}
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			return nil, errors.Wrap(err, "ping database")
		}
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return &DB{DB: sqlDB, Dialect: Postgres}, nil
}

func openSQLite(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// A single writer keeps sqlite from reporting SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &DB{DB: sqlDB, Dialect: SQLite}, nil
}

// Rebind rewrites $N placeholders for drivers that only take '?'.
func (db *DB) Rebind(query string) string {
	if db.Dialect != SQLite {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// HealthCheck verifies the database connection is healthy
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// RunMigrations applies every numbered .sql file in fsys not yet recorded
// in schema_migrations.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	migrations, err := readMigrations(fsys)
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	if len(migrations) == 0 {
		log.Info().Msg("no migrations found")
		return nil
	}

	if err := db.createMigrationTable(ctx); err != nil {
		return errors.Wrap(err, "create migration table")
	}

	for _, migration := range migrations {
		applied, err := db.isMigrationApplied(ctx, migration.Number)
		if err != nil {
			return errors.Wrap(err, "check migration status")
		}

		if applied {
			log.Debug().Int("version", migration.Number).Msg("migration already applied, skipping")
			continue
		}

		log.Info().Int("version", migration.Number).Str("name", migration.Name).Msg("applying migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin transaction")
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute migration %d", migration.Number)
		}

		if _, err := tx.ExecContext(ctx,
			db.Rebind("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)"),
			migration.Number,
			migration.Name,
		); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "record migration")
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "commit migration")
		}
	}

	return nil
}

// Migration represents a single migration file
type Migration struct {
	Number int
	Name   string
	SQL    string
}

// readMigrations reads files named like 001_initial_schema.sql, sorted by number.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		filename := d.Name()
		parts := strings.Split(filename, "_")
		if len(parts) < 2 {
			return nil
		}

		number, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil
		}

		sqlBytes, err := fs.ReadFile(fsys, path)
		if err != nil {
			return errors.Wrapf(err, "read migration file %s", filename)
		}

		migrations = append(migrations, Migration{
			Number: number,
			Name:   strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql"),
			SQL:    string(sqlBytes),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Number < migrations[j].Number
	})

	return migrations, nil
}

// createMigrationTable creates the table that tracks which migrations have been applied
func (db *DB) createMigrationTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isMigrationApplied checks if a migration with the given number has been applied
func (db *DB) isMigrationApplied(ctx context.Context, number int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		db.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = $1"),
		number,
	).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
