package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/model"
)

const memberColumns = `id, display_name, joined_at, tier, counters, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (model.Member, error) {
	var (
		m        model.Member
		id       string
		joinedAt int64
		tier     int
		counters string
	)
	if err := row.Scan(&id, &m.DisplayName, &joinedAt, &tier, &counters, &m.Version); err != nil {
		return model.Member{}, err
	}
	c, err := unmarshalCounters(counters)
	if err != nil {
		return model.Member{}, err
	}
	m.ID = model.MemberID(id)
	m.JoinedAt = decodeTime(joinedAt)
	m.Tier = model.RankTier(tier)
	m.Counters = c
	return m, nil
}

// GetMember retrieves a member record.
// Returns errs.NotFound if the member has no record.
func (s *Store) GetMember(ctx context.Context, id model.MemberID) (model.Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, string(id))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, errs.NotFound("get member", id)
	}
	if err != nil {
		return model.Member{}, classify("get member", err)
	}
	return m, nil
}

// InsertMember inserts m if no record exists for m.ID.
// Uses ON CONFLICT(id) DO NOTHING - a duplicate insert is a no-op that
// returns the existing record with inserted=false.
//
// Effects are written to the outbox in the same transaction, and only when
// the insert took place.
func (s *Store) InsertMember(ctx context.Context, m model.Member, effects ...model.Effect) (stored model.Member, inserted bool, err error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	counters, err := marshalCounters(m.Counters)
	if err != nil {
		return model.Member{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Member{}, false, classify("insert member: begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, display_name, joined_at, tier, counters, last_day, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, string(m.ID), m.DisplayName, encodeTime(m.JoinedAt), int(m.Tier), counters, m.Counters.LastDay)
	if err != nil {
		return model.Member{}, false, classify("insert member", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return model.Member{}, false, classify("insert member: rows affected", err)
	}

	if rows > 0 {
		if err := s.insertEffects(ctx, tx, effects); err != nil {
			return model.Member{}, false, err
		}
	}

	stored, err = scanMember(tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, string(m.ID)))
	if err != nil {
		return model.Member{}, false, classify("insert member: read back", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Member{}, false, classify("insert member: commit", err)
	}
	return stored, rows > 0, nil
}

// UpdateMember writes m if the stored version still equals m.Version.
// Returns the record with its new version. Returns errs.Conflict if another
// writer got there first and errs.NotFound if the record does not exist.
func (s *Store) UpdateMember(ctx context.Context, m model.Member, effects ...model.Effect) (model.Member, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	counters, err := marshalCounters(m.Counters)
	if err != nil {
		return model.Member{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Member{}, classify("update member: begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE members
		SET display_name = ?, tier = ?, counters = ?, last_day = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, m.DisplayName, int(m.Tier), counters, m.Counters.LastDay, string(m.ID), m.Version)
	if err != nil {
		return model.Member{}, classify("update member", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return model.Member{}, classify("update member: rows affected", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE id = ?`, string(m.ID)).Scan(&exists)
		if err != nil {
			return model.Member{}, classify("update member: check exists", err)
		}
		if exists == 0 {
			return model.Member{}, errs.NotFound("update member", m.ID)
		}
		return model.Member{}, errs.Conflict("update member", m.ID)
	}

	if err := s.insertEffects(ctx, tx, effects); err != nil {
		return model.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Member{}, classify("update member: commit", err)
	}

	m.Version++
	return m, nil
}

// UpsertMember writes m unconditionally, replacing any stored record.
// Intended for administrative imports; live paths use InsertMember and
// UpdateMember.
func (s *Store) UpsertMember(ctx context.Context, m model.Member) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	counters, err := marshalCounters(m.Counters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO members (id, display_name, joined_at, tier, counters, last_day, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			joined_at = excluded.joined_at,
			tier = excluded.tier,
			counters = excluded.counters,
			last_day = excluded.last_day,
			version = members.version + 1
	`, string(m.ID), m.DisplayName, encodeTime(m.JoinedAt), int(m.Tier), counters, m.Counters.LastDay)
	return classify("upsert member", err)
}

// ListAllMemberIDs returns the ids of every persisted member.
func (s *Store) ListAllMemberIDs(ctx context.Context) (model.IDSet, error) {
	return s.queryIDs(ctx, "list member ids", `SELECT id FROM members`)
}

// MembersDueRollover returns the ids of members whose daily counters belong
// to a calendar day before today. Members that never had activity are skipped.
func (s *Store) MembersDueRollover(ctx context.Context, today string) ([]model.MemberID, error) {
	set, err := s.queryIDs(ctx, "members due rollover",
		`SELECT id FROM members WHERE last_day != '' AND last_day < ?`, today)
	if err != nil {
		return nil, err
	}
	return set.Sorted(), nil
}

func (s *Store) queryIDs(ctx context.Context, op, query string, args ...any) (model.IDSet, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	ids := model.IDSet{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(op+": scan", err)
		}
		ids.Add(model.MemberID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op+": iterate", err)
	}
	return ids, nil
}
