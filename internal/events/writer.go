// Package events journals contract events to the workspace database. The
// journal is append-only: rows are inserted once and never updated.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"contractline/internal/domain"
)

type Writer struct {
	DB *sql.DB
}

// Append journals e inside tx. It reports false when an event with the same
// ID is already present.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.ContractEvent) (bool, error) {
	var payload []byte
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return false, fmt.Errorf("marshal event payload: %w", err)
		}
		payload = data
	} else {
		payload = []byte("{}")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO contract_events(event_id,contract_id,type,actor_id,ts,payload_json) VALUES (?,?,?,?,?,?) ON CONFLICT(event_id) DO NOTHING`,
		e.ID, e.ContractID, string(e.Type), nullable(e.ActorID), e.Timestamp.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return false, fmt.Errorf("journal event %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query selects journal rows. Zero values do not filter.
type Query struct {
	ContractID string
	Type       domain.EventType
	Limit      int
}

// Tail returns the newest journal entries first.
func (w Writer) Tail(ctx context.Context, q Query) ([]domain.ContractEvent, error) {
	sqlStr := `SELECT event_id, contract_id, type, actor_id, ts, payload_json FROM contract_events WHERE 1=1`
	var args []any
	if q.ContractID != "" {
		sqlStr += ` AND contract_id=?`
		args = append(args, q.ContractID)
	}
	if q.Type != "" {
		sqlStr += ` AND type=?`
		args = append(args, string(q.Type))
	}
	sqlStr += ` ORDER BY seq DESC`
	if q.Limit > 0 {
		sqlStr += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	rows, err := w.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContractEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ForContract returns the journal of one contract in append order.
func (w Writer) ForContract(ctx context.Context, contractID string) ([]domain.ContractEvent, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT event_id, contract_id, type, actor_id, ts, payload_json FROM contract_events WHERE contract_id=? ORDER BY seq`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContractEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (domain.ContractEvent, error) {
	var (
		e       domain.ContractEvent
		typ     string
		actor   sql.NullString
		ts      string
		payload string
	)
	if err := s.Scan(&e.ID, &e.ContractID, &typ, &actor, &ts, &payload); err != nil {
		return e, err
	}
	e.Type = domain.EventType(typ)
	e.ActorID = actor.String
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return e, fmt.Errorf("event %s: bad timestamp %q: %w", e.ID, ts, err)
	}
	e.Timestamp = t
	p, err := domain.DecodePayload(e.Type, json.RawMessage(payload))
	if err != nil {
		return e, fmt.Errorf("event %s: %w", e.ID, err)
	}
	e.Payload = p
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
