// Package rundb is an optional Postgres-backed audit sink: every analyze or
// validate invocation can record a row describing what it did, for
// operators who want a queryable history across machines. It is grounded on
// the teacher's pkg/database/client.go connection-pooling pattern, adapted
// from proof-artifact storage to this core's own run-audit table, and on
// pkg/database/repository_proof.go's use of github.com/google/uuid for
// generated row identifiers.
package rundb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/sappp/core/pkg/errkind"
	"github.com/sappp/core/pkg/logging"
)

// Client wraps a pooled Postgres connection used only for run auditing —
// never for any data a certificate, PO, or UNKNOWN record depends on.
type Client struct {
	db     *sql.DB
	logger *logging.Logger
}

// ClientOption configures a Client beyond NewClient's required dsn.
type ClientOption func(*Client)

// WithLogger attaches a logger other than logging.New's default.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient opens a connection pool against dsn and verifies it with a
// bounded ping, matching the teacher's NewClient contract.
func NewClient(dsn string, opts ...ClientOption) (*Client, error) {
	if dsn == "" {
		return nil, errkind.New(errkind.KindRuleViolation, "rundb: dsn must not be empty")
	}

	client := &Client{logger: logging.New("rundb", logging.LevelInfo)}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIO, err, "open rundb connection")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errkind.Wrap(errkind.KindIO, err, "ping rundb")
	}

	client.db = db
	client.logger.Infof("connected to rundb")
	return client, nil
}

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// RunRecord is one audit row: which command ran, against which inputs, and
// what it concluded. None of these fields feed back into analysis — the
// table is read-only history.
type RunRecord struct {
	Command      string
	InputDigest  string
	OutputDigest string
	SafeCount    int
	BugCount     int
	UnknownCount int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RecordRun inserts run as a new row, generating its own primary key, and
// returns that key.
func (c *Client) RecordRun(ctx context.Context, run RunRecord) (string, error) {
	id := uuid.New().String()
	const stmt = `INSERT INTO run_audit
		(id, command, input_digest, output_digest, safe_count, bug_count, unknown_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := c.db.ExecContext(ctx, stmt,
		id, run.Command, run.InputDigest, run.OutputDigest,
		run.SafeCount, run.BugCount, run.UnknownCount, run.StartedAt, run.FinishedAt,
	); err != nil {
		return "", errkind.Wrap(errkind.KindIO, err, "insert run_audit row")
	}
	return id, nil
}
