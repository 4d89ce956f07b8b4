// Package store snapshots the registry into the workspace database. Contract
// rows are replaced on every save; events go to the append-only journal.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"contractline/internal/domain"
	"contractline/internal/events"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) Store {
	return Store{DB: db, Now: time.Now}
}

func (s Store) journal() events.Writer {
	return events.Writer{DB: s.DB}
}

// SaveResult reports what a Save changed.
type SaveResult struct {
	Contracts int `json:"contracts"`
	Removed   int `json:"removed"`
	NewEvents int `json:"new_events"`
}

// Save writes contracts as the new snapshot in one transaction. Rows for
// contracts absent from the snapshot are removed; their journal entries stay.
func (s Store) Save(ctx context.Context, contracts []domain.Contract) (SaveResult, error) {
	var res SaveResult
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	keep := make(map[string]bool, len(contracts))
	w := s.journal()
	for _, c := range contracts {
		body := c.Clone()
		body.Events = nil
		data, err := json.Marshal(body)
		if err != nil {
			return res, fmt.Errorf("marshal contract %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO contracts(id,state,body_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET state=excluded.state, body_json=excluded.body_json, updated_at=excluded.updated_at`,
			c.ID, string(c.State), string(data), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		if err != nil {
			return res, fmt.Errorf("save contract %s: %w", c.ID, err)
		}
		keep[c.ID] = true
		for _, e := range c.Events {
			added, err := w.Append(ctx, tx, e)
			if err != nil {
				return res, err
			}
			if added {
				res.NewEvents++
			}
		}
	}
	res.Contracts = len(keep)

	rows, err := tx.QueryContext(ctx, `SELECT id FROM contracts`)
	if err != nil {
		return res, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return res, err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return res, err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id=?`, id); err != nil {
			return res, fmt.Errorf("remove contract %s: %w", id, err)
		}
	}
	res.Removed = len(stale)

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(ts,contracts,events) VALUES (?,?,?)`,
		formatTime(now()), res.Contracts, res.NewEvents); err != nil {
		return res, fmt.Errorf("record snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// Load returns every stored contract with its journaled events.
func (s Store) Load(ctx context.Context) ([]domain.Contract, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, body_json FROM contracts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Contract
	index := map[string]int{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		c, err := decodeContract(id, body)
		if err != nil {
			return nil, err
		}
		index[id] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	evs, err := s.journal().Tail(ctx, events.Query{})
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	// Tail is newest first.
	for i := len(evs) - 1; i >= 0; i-- {
		e := evs[i]
		if pos, ok := index[e.ContractID]; ok {
			out[pos].Events = append(out[pos].Events, e)
		}
	}
	return out, nil
}

// Get returns one stored contract with its events.
func (s Store) Get(ctx context.Context, id string) (domain.Contract, error) {
	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body_json FROM contracts WHERE id=?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contract{}, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Contract{}, err
	}
	c, err := decodeContract(id, body)
	if err != nil {
		return domain.Contract{}, err
	}
	c.Events, err = s.journal().ForContract(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// LatestEvents returns up to n journal entries, newest first.
func (s Store) LatestEvents(ctx context.Context, n int, contractID string, eventType domain.EventType) ([]domain.ContractEvent, error) {
	return s.journal().Tail(ctx, events.Query{ContractID: contractID, Type: eventType, Limit: n})
}

// SnapshotInfo describes one Save.
type SnapshotInfo struct {
	At        time.Time `json:"at"`
	Contracts int       `json:"contracts"`
	NewEvents int       `json:"new_events"`
}

// LastSnapshot returns the most recent Save, or ErrNotFound before the first.
func (s Store) LastSnapshot(ctx context.Context) (SnapshotInfo, error) {
	var (
		info SnapshotInfo
		ts   string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT ts, contracts, events FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&ts, &info.Contracts, &info.NewEvents)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return info, err
	}
	info.At, err = time.Parse(time.RFC3339Nano, ts)
	return info, err
}

func decodeContract(id, body string) (domain.Contract, error) {
	var c domain.Contract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return c, fmt.Errorf("decode contract %s: %w", id, err)
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
