package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/zero-day-ai/aggregator/aggregate"
	"github.com/zero-day-ai/aggregator/group"
)

// Dialect names the SQL database behind a SQLBackend.
type Dialect string

const (
	// DialectSQLite uses modernc.org/sqlite and ? placeholders.
	DialectSQLite Dialect = "sqlite"

	// DialectPostgres uses lib/pq and $N placeholders.
	DialectPostgres Dialect = "postgres"
)

// SQLBackend stores snapshots in the finding_groups table.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	codec   *Codec
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string, codec *Codec) (*SQLBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	// SQLite serializes writers; share one connection.
	db.SetMaxOpenConns(1)

	b, err := NewSQLBackend(db, DialectSQLite, codec)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// OpenPostgres connects to PostgreSQL with a lib/pq DSN.
func OpenPostgres(dsn string, codec *Codec) (*SQLBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	b, err := NewSQLBackend(db, DialectPostgres, codec)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLBackend uses an open database and creates the schema if missing.
// Close closes db.
func NewSQLBackend(db *sql.DB, dialect Dialect, codec *Codec) (*SQLBackend, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}

	b := &SQLBackend{db: db, dialect: dialect, codec: codec}
	if err := b.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) initSchema() error {
	blob := "BLOB"
	if b.dialect == DialectPostgres {
		blob = "BYTEA"
	}

	schema := `
	CREATE TABLE IF NOT EXISTS finding_groups (
		session TEXT NOT NULL,
		producer TEXT NOT NULL,
		class TEXT NOT NULL,
		position INTEGER NOT NULL,
		identity TEXT NOT NULL,
		payload ` + blob + ` NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session, producer, class, position)
	);

	CREATE INDEX IF NOT EXISTS idx_finding_groups_identity ON finding_groups(session, identity);
	`

	_, err := b.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders for the backend's dialect.
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SaveBucket replaces the rows of a bucket in one transaction.
func (b *SQLBackend) SaveBucket(ctx context.Context, session string, key aggregate.BucketKey, snapshots []group.Snapshot) error {
	payloads := make([][]byte, len(snapshots))
	for i, s := range snapshots {
		if s.Identity == "" {
			return fmt.Errorf("snapshot %d of bucket %s has no identity", i, key)
		}
		data, err := b.codec.Encode(s)
		if err != nil {
			return fmt.Errorf("encode group %s: %w", s.Identity, err)
		}
		payloads[i] = data
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, b.rebind(`
		DELETE FROM finding_groups WHERE session = ? AND producer = ? AND class = ?
	`), session, key.Producer, key.Class); err != nil {
		return fmt.Errorf("delete bucket %s: %w", key, err)
	}

	if len(snapshots) > 0 {
		stmt, err := tx.PrepareContext(ctx, b.rebind(`
			INSERT INTO finding_groups (session, producer, class, position, identity, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, s := range snapshots {
			if _, err := stmt.ExecContext(ctx, session, key.Producer, key.Class, i, s.Identity, payloads[i], now); err != nil {
				return fmt.Errorf("insert group %s: %w", s.Identity, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bucket %s: %w", key, err)
	}
	return nil
}

// LoadBucket returns the stored groups of a bucket ordered by position.
func (b *SQLBackend) LoadBucket(ctx context.Context, session string, key aggregate.BucketKey) ([]group.Snapshot, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(`
		SELECT identity, payload FROM finding_groups
		WHERE session = ? AND producer = ? AND class = ?
		ORDER BY position ASC
	`), session, key.Producer, key.Class)
	if err != nil {
		return nil, fmt.Errorf("query bucket %s: %w", key, err)
	}
	defer rows.Close()

	snapshots := []group.Snapshot{}
	for rows.Next() {
		var identity string
		var payload []byte
		if err := rows.Scan(&identity, &payload); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		s, err := b.codec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode group %s: %w", identity, err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket %s: %w", key, err)
	}

	return snapshots, nil
}

// Buckets lists the non-empty buckets of a session.
func (b *SQLBackend) Buckets(ctx context.Context, session string) ([]aggregate.BucketKey, error) {
	rows, err := b.db.QueryContext(ctx, b.rebind(`
		SELECT DISTINCT producer, class FROM finding_groups
		WHERE session = ?
		ORDER BY producer, class
	`), session)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var keys []aggregate.BucketKey
	for rows.Next() {
		var key aggregate.BucketKey
		if err := rows.Scan(&key.Producer, &key.Class); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	// Collation differs between databases; keep the Redis backend's order.
	sortBucketKeys(keys)

	return keys, nil
}

// Delete removes every row of a session.
func (b *SQLBackend) Delete(ctx context.Context, session string) error {
	if _, err := b.db.ExecContext(ctx, b.rebind(`DELETE FROM finding_groups WHERE session = ?`), session); err != nil {
		return fmt.Errorf("delete session %s: %w", session, err)
	}
	return nil
}

// Ping checks the database connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database connection.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
