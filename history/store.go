package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"granary/core/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    account     TEXT NOT NULL,
    stream      TEXT NOT NULL,
    amount      TEXT NOT NULL,
    settled_at  INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_account ON settlements(account, id DESC);
`

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("history: archive path must be configured")

// Store archives reward settlements in sqlite so operators can answer
// "what did this account earn" without replaying the journal.
type Store struct {
	db *sql.DB
}

// Settlement is one archived payout.
type Settlement struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	Stream     string    `json:"stream"`
	Amount     string    `json:"amount"`
	SettledAt  int64     `json:"settledAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Open initialises the archive using a sqlite-compatible DSN.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record persists one settlement.
func (s *Store) Record(ctx context.Context, account, stream, amount string, settledAt int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history: store not configured")
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return fmt.Errorf("history: account required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO settlements(account, stream, amount, settled_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, account, strings.TrimSpace(stream), strings.TrimSpace(amount), settledAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// ListByAccount returns the newest settlements for an account, most recent
// first. Stream narrows the result when non-empty.
func (s *Store) ListByAccount(ctx context.Context, account, stream string, limit int) ([]Settlement, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history: store not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
        SELECT id, account, stream, amount, settled_at, recorded_at
        FROM settlements
        WHERE account = ?
    `
	args := []interface{}{strings.TrimSpace(account)}
	if trimmed := strings.TrimSpace(stream); trimmed != "" {
		query += " AND stream = ?"
		args = append(args, trimmed)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	var results []Settlement
	for rows.Next() {
		var entry Settlement
		if err := rows.Scan(&entry.ID, &entry.Account, &entry.Stream, &entry.Amount, &entry.SettledAt, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		results = append(results, entry)
	}
	return results, rows.Err()
}

// TotalByAccount sums archived settlement amounts per stream for an account.
// Amounts are summed as integers in SQL; the ledger only writes decimal wei
// strings.
func (s *Store) TotalByAccount(ctx context.Context, account string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history: store not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT stream, CAST(TOTAL(CAST(amount AS REAL)) AS TEXT)
        FROM settlements
        WHERE account = ?
        GROUP BY stream
    `, strings.TrimSpace(account))
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]string)
	for rows.Next() {
		var stream, total string
		if err := rows.Scan(&stream, &total); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		totals[stream] = total
	}
	return totals, rows.Err()
}

// Sink feeds settlement events from the engine's emitter into the archive.
// Only settlement payouts are archived; every other event type passes
// through untouched.
type Sink struct {
	store   *Store
	onError func(error)
}

// NewSink wires the archive behind an events.Emitter.
func NewSink(store *Store, onError func(error)) *Sink {
	return &Sink{store: store, onError: onError}
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || s.store == nil {
		return
	}
	settled, ok := evt.(events.YieldRewardsSettled)
	if !ok {
		return
	}
	payload := settled.Event()
	err := s.store.Record(
		context.Background(),
		payload.Attribute("account"),
		settled.Stream,
		payload.Attribute("amount"),
		int64(settled.Unix),
	)
	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
