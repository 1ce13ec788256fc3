package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crimson-sun/failcast/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	will_fail INTEGER NOT NULL,
	probability REAL NOT NULL,
	reason TEXT NOT NULL,
	spike_metric TEXT,
	spike_change TEXT NOT NULL,
	synthetic_rows TEXT,
	created_at TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_predictions_host ON predictions(host);
CREATE INDEX IF NOT EXISTS idx_predictions_will_fail ON predictions(will_fail);
`

// Record is a stored prediction with its row id.
type Record struct {
	ID int64 `json:"id"`
	model.Prediction
}

// Output persists predictions into a SQLite database and serves them back
// for the history endpoint and CLI.
type Output struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" in tests.
func Open(path string) (*Output, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Output{db: db}, nil
}

// Write stores one prediction.
func (o *Output) Write(ctx context.Context, pred model.Prediction) error {
	ts := pred.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var metric sql.NullString
	if pred.LastSpike.Metric != nil {
		metric = sql.NullString{String: *pred.LastSpike.Metric, Valid: true}
	}

	var synthetic sql.NullString
	if len(pred.SyntheticRows) > 0 {
		b, err := json.Marshal(pred.SyntheticRows)
		if err != nil {
			return fmt.Errorf("history: marshal synthetic rows: %w", err)
		}
		synthetic = sql.NullString{String: string(b), Valid: true}
	}

	_, err := o.db.ExecContext(ctx, `
		INSERT INTO predictions (timestamp, host, will_fail, probability, reason, spike_metric, spike_change, synthetic_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UTC().Format(time.RFC3339Nano), pred.Host, pred.WillFail, pred.Probability,
		pred.Reason, metric, pred.LastSpike.Change, synthetic)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit predictions, newest first.
func (o *Output) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, timestamp, host, will_fail, probability, reason, spike_metric, spike_change, synthetic_rows
		FROM predictions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Counts returns the number of stored predictions per verdict.
func (o *Output) Counts(ctx context.Context) (failing, healthy int, err error) {
	row := o.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(will_fail), 0), COALESCE(SUM(1 - will_fail), 0) FROM predictions
	`)
	if err := row.Scan(&failing, &healthy); err != nil {
		return 0, 0, fmt.Errorf("history: counts: %w", err)
	}
	return failing, healthy, nil
}

// Close closes the database.
func (o *Output) Close() error {
	return o.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r         Record
			ts        string
			metric    sql.NullString
			synthetic sql.NullString
		)
		err := rows.Scan(&r.ID, &ts, &r.Host, &r.WillFail, &r.Probability,
			&r.Reason, &metric, &r.LastSpike.Change, &synthetic)
		if err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("history: scan: row %d timestamp: %w", r.ID, err)
		}
		if metric.Valid {
			m := metric.String
			r.LastSpike.Metric = &m
		}
		if synthetic.Valid {
			if err := json.Unmarshal([]byte(synthetic.String), &r.SyntheticRows); err != nil {
				return nil, fmt.Errorf("history: scan: row %d synthetic_rows: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
