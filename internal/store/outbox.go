package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/model"
)

const effectColumns = `effect_key, payload, state, attempts, last_error, created_at, updated_at`

// insertEffects writes effects as pending outbox entries inside tx.
// Keys already present (pending or finished) are left untouched.
func (s *Store) insertEffects(ctx context.Context, tx *sql.Tx, effects []model.Effect) error {
	now := encodeTime(s.now())
	for _, e := range effects {
		payload, err := marshalEffect(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO effects (effect_key, member_id, kind, payload, state, attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(effect_key) DO NOTHING
		`, e.Key(), string(e.MemberID), string(e.Kind), payload, string(model.EffectPending), now, now)
		if err != nil {
			return classify("insert effect", err)
		}
	}
	return nil
}

// EnqueueEffects writes effects to the outbox outside of any state change.
func (s *Store) EnqueueEffects(ctx context.Context, effects ...model.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("enqueue effects: begin tx", err)
	}
	defer tx.Rollback()

	if err := s.insertEffects(ctx, tx, effects); err != nil {
		return err
	}
	return classify("enqueue effects: commit", tx.Commit())
}

func scanEntry(row rowScanner) (model.OutboxEntry, error) {
	var (
		entry     model.OutboxEntry
		payload   string
		state     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&entry.Key, &payload, &state, &entry.Attempts, &entry.LastError, &createdAt, &updatedAt)
	if err != nil {
		return model.OutboxEntry{}, err
	}
	e, err := unmarshalEffect(payload)
	if err != nil {
		return model.OutboxEntry{}, err
	}
	entry.Effect = e
	entry.State = model.EffectState(state)
	entry.CreatedAt = decodeTime(createdAt)
	entry.UpdatedAt = decodeTime(updatedAt)
	return entry, nil
}

// GetEffect reads one outbox entry by key.
func (s *Store) GetEffect(ctx context.Context, key string) (model.OutboxEntry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	entry, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+effectColumns+` FROM effects WHERE effect_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.OutboxEntry{}, &errs.Error{Code: errs.CodeNotFound, Op: "get effect", Err: fmt.Errorf("key %s", key)}
	}
	if err != nil {
		return model.OutboxEntry{}, classify("get effect", err)
	}
	return entry, nil
}

// ListEffects returns outbox entries in enqueue order. With no states
// given, all entries are returned. limit <= 0 means no limit.
func (s *Store) ListEffects(ctx context.Context, limit int, states ...model.EffectState) ([]model.OutboxEntry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := `SELECT ` + effectColumns + ` FROM effects`
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (`
		for i, st := range states {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list effects", err)
	}
	defer rows.Close()

	entries := []model.OutboxEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, classify("list effects: scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list effects: iterate", err)
	}
	return entries, nil
}

// ClaimEffect moves a pending entry to sending. Only one caller can claim
// a key; claimed=false means it was already claimed or finished.
func (s *Store) ClaimEffect(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE effects SET state = ?, updated_at = ?
		WHERE effect_key = ? AND state = ?
	`, string(model.EffectSending), encodeTime(s.now()), key, string(model.EffectPending))
	if err != nil {
		return false, classify("claim effect", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("claim effect: rows affected", err)
	}
	return rows > 0, nil
}

// FinishEffect records the final state of a claimed entry.
func (s *Store) FinishEffect(ctx context.Context, key string, state model.EffectState, attempts int, lastErr string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE effects SET state = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE effect_key = ? AND state = ?
	`, string(state), attempts, lastErr, encodeTime(s.now()), key, string(model.EffectSending))
	return classify("finish effect", err)
}

// CountEffects returns the number of outbox entries per state.
func (s *Store) CountEffects(ctx context.Context) (map[model.EffectState]int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM effects GROUP BY state`)
	if err != nil {
		return nil, classify("count effects", err)
	}
	defer rows.Close()

	counts := map[model.EffectState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, classify("count effects: scan", err)
		}
		counts[model.EffectState(state)] = n
	}
	return counts, classify("count effects: iterate", rows.Err())
}
