// Package postgres persists router events so the history survives reboots of
// the host. Every row carries the station MAC derived device id and the boot
// id of the run that produced it.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 10000
	opTimeout         = 5 * time.Second
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	DeviceID  string                 `json:"device_id"`
	BootID    *string                `json:"boot_id,omitempty"`
}

// Filter narrows a history query. Zero values do not filter.
type Filter struct {
	Limit  int
	Prefix string // event name prefix, e.g. "watchdog."
	BootID string
	Since  time.Time
}

// Client stores events for one device.
type Client struct {
	db       *sql.DB
	deviceID string
}

// New connects and makes sure the schema exists. An empty dsn is built from
// the PG* environment variables.
func New(dsn, deviceID string) (*Client, error) {
	connStr := dsn
	if connStr == "" {
		connStr = EnvDSN()
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:       db,
		deviceID: deviceID,
	}
	if err := client.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create router_events: %w", err)
	}
	return client, nil
}

// EnvDSN builds a connection string from PGHOST, PGPORT, PGUSER, PGDATABASE
// and PGPASSWORD.
func EnvDSN() string {
	parts := []string{
		"host=" + getEnv("PGHOST", "127.0.0.1"),
		"port=" + getEnv("PGPORT", "5432"),
		"user=" + getEnv("PGUSER", "napt"),
	}
	if password := os.Getenv("PGPASSWORD"); password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts, "dbname="+getEnv("PGDATABASE", "napt"), "sslmode="+getEnv("PGSSLMODE", "disable"))
	return strings.Join(parts, " ")
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS router_events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			device_id  TEXT NOT NULL,
			boot_id    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_router_events_device_ts ON router_events(device_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_router_events_boot ON router_events(boot_id);
	`)
	return err
}

// Append implements events.Store. bootID is the per-run session id.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, bootID string) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		if fieldsJSON, err = json.Marshal(fields); err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO router_events (ts, level, event, msg, fields, device_id, boot_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ts, level, event, nullable(msg), fieldsJSON, c.deviceID, nullable(bootID))
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// buildQuery renders the history query for f, newest first.
func buildQuery(deviceID string, f Filter) (string, []interface{}) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	where := []string{"device_id = $1"}
	args := []interface{}{deviceID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Prefix != "" {
		add("event LIKE $%d", escapeLike(f.Prefix)+"%")
	}
	if f.BootID != "" {
		add("boot_id = $%d", f.BootID)
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT event_id, ts, level, event, msg, fields, device_id, boot_id
		FROM router_events
		WHERE %s
		ORDER BY ts DESC, event_id DESC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Query returns stored events matching f, newest first.
func (c *Client) Query(ctx context.Context, f Filter) ([]EventRow, error) {
	query, args := buildQuery(c.deviceID, f)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, bootID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.DeviceID, &bootID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if bootID.Valid {
			e.BootID = &bootID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes this device's events older than before and returns how many
// rows went.
func (c *Client) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM router_events WHERE device_id = $1 AND ts < $2`, c.deviceID, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
