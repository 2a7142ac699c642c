// Package journal persists settlement attempts so billing discrepancies can
// be reconciled out of band.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pario-ai/agentpay/pkg/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("journal entry not found")

// Recorder is the write side used by the settlement coordinator.
type Recorder interface {
	Record(ctx context.Context, e models.SettlementEntry) error
}

// QueryOpts filters List.
type QueryOpts struct {
	Binding    models.Binding
	State      models.SettlementState
	Subscriber string
	Since      time.Time
	Limit      int
}

// SQLiteJournal stores entries in SQLite and purges old ones hourly.
type SQLiteJournal struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

const createTable = `
CREATE TABLE IF NOT EXISTS settlements (
	id          TEXT PRIMARY KEY,
	binding     TEXT NOT NULL,
	plan_id     TEXT NOT NULL,
	subscriber  TEXT NOT NULL,
	query       TEXT NOT NULL DEFAULT '',
	credits     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	tx_id       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_state ON settlements(state, created_at);
CREATE INDEX IF NOT EXISTS idx_settlements_subscriber ON settlements(subscriber, created_at);
`

// New opens the journal at dbPath. retentionDays <= 0 keeps entries forever.
func New(dbPath string, retentionDays int) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	j := &SQLiteJournal{db: db, retentionDays: retentionDays, done: make(chan struct{})}
	if retentionDays > 0 {
		j.wg.Add(1)
		go j.retentionLoop()
	}
	return j, nil
}

// Record inserts e, assigning an ID and timestamp when unset.
func (j *SQLiteJournal) Record(ctx context.Context, e models.SettlementEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO settlements (id, binding, plan_id, subscriber, query, credits, state, tx_id, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Binding), e.PlanID, e.Subscriber, e.Query, e.Credits,
		string(e.State), e.TxID, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// List returns entries matching opts, newest first.
func (j *SQLiteJournal) List(ctx context.Context, opts QueryOpts) ([]models.SettlementEntry, error) {
	q := `SELECT id, binding, plan_id, subscriber, query, credits, state, tx_id, error, created_at
		FROM settlements WHERE 1=1`
	var args []any

	if opts.Binding != "" {
		q += " AND binding = ?"
		args = append(args, string(opts.Binding))
	}
	if opts.State != "" {
		q += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.Subscriber != "" {
		q += " AND subscriber = ?"
		args = append(args, opts.Subscriber)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var entries []models.SettlementEntry
	for rows.Next() {
		var e models.SettlementEntry
		var binding, state string
		if err := rows.Scan(&e.ID, &binding, &e.PlanID, &e.Subscriber, &e.Query,
			&e.Credits, &state, &e.TxID, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		e.Binding = models.Binding(binding)
		e.State = models.SettlementState(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Unreconciled returns failed settlements, oldest first.
func (j *SQLiteJournal) Unreconciled(ctx context.Context) ([]models.SettlementEntry, error) {
	entries, err := j.List(ctx, QueryOpts{State: models.SettlementFailed, Limit: 1000})
	if err != nil {
		return nil, err
	}
	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return entries, nil
}

// MarkReconciled records that a failed settlement was redeemed manually.
func (j *SQLiteJournal) MarkReconciled(ctx context.Context, id, txID string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE settlements SET state = ?, tx_id = ?, error = '' WHERE id = ? AND state = ?`,
		string(models.SettlementSettled), txID, id, string(models.SettlementFailed))
	if err != nil {
		return fmt.Errorf("reconcile settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconcile settlement: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reconcile %s: %w", id, ErrNotFound)
	}
	return nil
}

// Summary aggregates entries since the given time by binding and state.
func (j *SQLiteJournal) Summary(ctx context.Context, since time.Time) ([]models.SettlementSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT binding, state, COUNT(*), COALESCE(SUM(credits), 0)
		 FROM settlements WHERE created_at >= ?
		 GROUP BY binding, state ORDER BY binding, state`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize settlements: %w", err)
	}
	defer rows.Close()

	var out []models.SettlementSummary
	for rows.Next() {
		var s models.SettlementSummary
		var binding, state string
		if err := rows.Scan(&binding, &state, &s.RequestCount, &s.TotalCredits); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Binding = models.Binding(binding)
		s.State = models.SettlementState(state)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cleanup deletes settled entries older than the retention period. Failed
// entries are kept until reconciled.
func (j *SQLiteJournal) Cleanup(ctx context.Context) (int64, error) {
	if j.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM settlements WHERE created_at < ? AND state = ?`, cutoff, string(models.SettlementSettled))
	if err != nil {
		return 0, fmt.Errorf("journal cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (j *SQLiteJournal) Close() error {
	close(j.done)
	j.wg.Wait()
	return j.db.Close()
}

func (j *SQLiteJournal) retentionLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			_, _ = j.Cleanup(context.Background())
		}
	}
}
