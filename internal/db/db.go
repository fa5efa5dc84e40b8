// Package db provides the optional audit store: invocations and their
// artifacts, kept in PostgreSQL or in a local SQLite file.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps the underlying *sql.DB and provides typed query methods. Queries
// are written with ? placeholders and rebound for the dialect.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// DialectFor picks the driver for a DATABASE_URL value: postgres:// and
// postgresql:// URLs go to PostgreSQL, anything else is a SQLite path.
func DialectFor(databaseURL string) Dialect {
	lower := strings.ToLower(databaseURL)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// New opens the database, verifies connectivity and applies migrations.
func New(databaseURL string) (*DB, error) {
	dialect := DialectFor(databaseURL)
	dsn := databaseURL
	if dialect == DialectSQLite {
		dsn = sqliteDSN(databaseURL)
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	d := &DB{conn: conn, dialect: dialect}
	if err := d.ApplyMigrations(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return d, nil
}

func sqliteDSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the database connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Dialect() Dialect { return d.dialect }

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// rebind turns ? placeholders into $1..$n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
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

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Invocation is the audit row of one command execution.
type Invocation struct {
	InvocationID       string    `json:"invocation_id"`
	Plugin             string    `json:"plugin"`
	Command            string    `json:"command"`
	Mode               string    `json:"mode"`
	Status             string    `json:"status"`
	DurationMS         int64     `json:"duration_ms"`
	Error              string    `json:"error,omitempty"`
	EvidenceHash       string    `json:"evidence_hash"`
	RequestArtifactID  *string   `json:"request_artifact_id,omitempty"`
	ResponseArtifactID *string   `json:"response_artifact_id,omitempty"`
	StdoutArtifactID   *string   `json:"stdout_artifact_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

const invocationColumns = `invocation_id, plugin, command, mode, status, duration_ms, error, evidence_hash,
	request_artifact_id, response_artifact_id, stdout_artifact_id, created_at`

// InsertInvocation creates a new invocation record.
func (d *DB) InsertInvocation(ctx context.Context, inv *Invocation) error {
	_, err := d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO invocations (`+invocationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inv.InvocationID, inv.Plugin, inv.Command, inv.Mode, inv.Status, inv.DurationMS, inv.Error, inv.EvidenceHash,
		inv.RequestArtifactID, inv.ResponseArtifactID, inv.StdoutArtifactID, toMillis(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row scanner) (*Invocation, error) {
	inv := &Invocation{}
	var created int64
	if err := row.Scan(&inv.InvocationID, &inv.Plugin, &inv.Command, &inv.Mode, &inv.Status, &inv.DurationMS, &inv.Error, &inv.EvidenceHash,
		&inv.RequestArtifactID, &inv.ResponseArtifactID, &inv.StdoutArtifactID, &created); err != nil {
		return nil, err
	}
	inv.CreatedAt = fromMillis(created)
	return inv, nil
}

// GetInvocation retrieves an invocation by ID. Returns nil if not found.
func (d *DB) GetInvocation(ctx context.Context, invocationID string) (*Invocation, error) {
	inv, err := scanInvocation(d.conn.QueryRowContext(ctx, d.rebind(
		`SELECT `+invocationColumns+` FROM invocations WHERE invocation_id = ?`), invocationID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns recent invocations, most recent first, optionally
// restricted to one command path.
func (d *DB) ListInvocations(ctx context.Context, command string, limit int) ([]*Invocation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + invocationColumns + ` FROM invocations`
	args := []any{}
	if command != "" {
		query += ` WHERE command = ?`
		args = append(args, command)
	}
	query += ` ORDER BY created_at DESC, invocation_id LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Artifact represents a stored file linked to an invocation.
type Artifact struct {
	ArtifactID   string    `json:"artifact_id"`
	InvocationID string    `json:"invocation_id"`
	Name         string    `json:"name"`
	URI          string    `json:"uri"`
	SHA256       string    `json:"sha256"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	CreatedAt    time.Time `json:"created_at"`
}

const artifactColumns = `artifact_id, invocation_id, name, uri, sha256, size_bytes, content_type, created_at`

// InsertArtifact creates a new artifact record.
func (d *DB) InsertArtifact(ctx context.Context, a *Artifact) error {
	_, err := d.conn.ExecContext(ctx, d.rebind(
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ArtifactID, a.InvocationID, a.Name, a.URI, a.SHA256, a.SizeBytes, a.ContentType, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func scanArtifact(row scanner) (*Artifact, error) {
	a := &Artifact{}
	var created int64
	if err := row.Scan(&a.ArtifactID, &a.InvocationID, &a.Name, &a.URI, &a.SHA256, &a.SizeBytes, &a.ContentType, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}

// GetArtifact retrieves an artifact by ID. Returns nil if not found.
func (d *DB) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	a, err := scanArtifact(d.conn.QueryRowContext(ctx, d.rebind(
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = ?`), artifactID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ListArtifactsByInvocation returns all artifacts of one invocation.
func (d *DB) ListArtifactsByInvocation(ctx context.Context, invocationID string) ([]*Artifact, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT `+artifactColumns+` FROM artifacts WHERE invocation_id = ? ORDER BY created_at, artifact_id`), invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var arts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		arts = append(arts, a)
	}
	return arts, rows.Err()
}
