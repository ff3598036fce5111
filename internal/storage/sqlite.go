package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultDBName is the database namespace used when none is configured.
const DefaultDBName = "chatbot"

var dbNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

// Store wraps one SQLite database. Each database file is an isolated
// namespace holding collections, their passages and the interaction log.
type Store struct {
	db   *sql.DB
	name string
}

// Open opens (or creates) the database namespace dbName inside dataDir and
// runs pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests).
func Open(dataDir, dbName string) (*Store, error) {
	if dbName == "" {
		dbName = DefaultDBName
	}
	if !dbNamePattern.MatchString(dbName) {
		return nil, fmt.Errorf("invalid database name %q", dbName)
	}

	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, dbName+".db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, name: dbName}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Name returns the database namespace this store was opened with.
func (s *Store) Name() string {
	return s.name
}

// DB exposes the underlying handle so the vector store can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Collections ---

// ListCollections returns every collection registered in this namespace,
// with its passage count.
func (s *Store) ListCollections() ([]CollectionInfo, error) {
	rows, err := s.db.Query(`
		SELECT c.name, c.dimension, c.metric, c.created_at, COUNT(p.id)
		FROM collections c LEFT JOIN passages p ON p.collection = c.name
		GROUP BY c.name ORDER BY c.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CollectionInfo
	for rows.Next() {
		var c CollectionInfo
		var createdAt string
		if err := rows.Scan(&c.Name, &c.Dimension, &c.Metric, &createdAt, &c.Passages); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for collection %s: %w", c.Name, err)
		}
		c.CreatedAt = t
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- Interactions ---

func (s *Store) SaveInteraction(i Interaction) error {
	sources := i.Sources
	if sources == "" {
		sources = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, created_at, session_id, question, standalone_question, answer, sources, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.CreatedAt.UTC().Format(time.RFC3339), i.SessionID, i.Question,
		i.StandaloneQuestion, i.Answer, sources, i.DurationMs,
	)
	return err
}

const interactionColumns = `id, created_at, session_id, question, standalone_question, answer, sources, duration_ms`

func scanInteraction(sc interface{ Scan(...any) error }) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := sc.Scan(&i.ID, &createdAt, &i.SessionID, &i.Question, &i.StandaloneQuestion, &i.Answer, &i.Sources, &i.DurationMs); err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	i, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// ListInteractions returns interactions newest first. When sessionID is
// non-empty only that session's interactions are returned.
func (s *Store) ListInteractions(sessionID string, limit, offset int) ([]Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func (s *Store) DeleteInteraction(id string) error {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
