package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/model"
)

const contractColumns = `id, member_id, team, salary, duration_years, start_date, expires_at, status, previous_id, version`

func scanContract(row rowScanner) (model.Contract, error) {
	var (
		c         model.Contract
		memberID  string
		startDate int64
		expiresAt int64
		status    string
	)
	err := row.Scan(&c.ID, &memberID, &c.Team, &c.Salary, &c.DurationYears,
		&startDate, &expiresAt, &status, &c.PreviousID, &c.Version)
	if err != nil {
		return model.Contract{}, err
	}
	st, err := model.ParseContractStatus(status)
	if err != nil {
		return model.Contract{}, err
	}
	c.MemberID = model.MemberID(memberID)
	c.StartDate = decodeTime(startDate)
	c.ExpiresAt = decodeTime(expiresAt)
	c.Status = st
	return c, nil
}

func collectContracts(rows *sql.Rows, op string) ([]model.Contract, error) {
	defer rows.Close()

	contracts := []model.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, classify(op+": scan", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op+": iterate", err)
	}
	return contracts, nil
}

// GetContract returns the member's current contract: the live one if any,
// otherwise the most recent one.
//
// Returns errs.NotFound if the member never held a contract, and
// errs.Invariant if more than one live contract is stored.
func (s *Store) GetContract(ctx context.Context, memberID model.MemberID) (model.Contract, error) {
	history, err := s.ContractHistory(ctx, memberID)
	if err != nil {
		return model.Contract{}, err
	}
	if len(history) == 0 {
		return model.Contract{}, errs.NotFound("get contract", memberID)
	}

	var live []model.Contract
	for _, c := range history {
		if c.Status.Live() {
			live = append(live, c)
		}
	}
	switch len(live) {
	case 0:
		return history[len(history)-1], nil
	case 1:
		return live[0], nil
	default:
		return model.Contract{}, errs.Invariant("get contract", memberID, "%d live contracts stored", len(live))
	}
}

// ContractHistory returns every contract of a member, oldest first.
func (s *Store) ContractHistory(ctx context.Context, memberID model.MemberID) ([]model.Contract, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE member_id = ?
		ORDER BY start_date ASC, id COLLATE BINARY ASC
	`, string(memberID))
	if err != nil {
		return nil, classify("contract history", err)
	}
	return collectContracts(rows, "contract history")
}

// InsertContract inserts c unless the member already holds a live
// contract or c.ID exists. Returns inserted=false on either conflict.
// Effects are written in the same transaction, only on insert.
func (s *Store) InsertContract(ctx context.Context, c model.Contract, effects ...model.Effect) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify("insert contract: begin tx", err)
	}
	defer tx.Rollback()

	inserted, err := insertContractTx(ctx, tx, c)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	if err := s.insertEffects(ctx, tx, effects); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify("insert contract: commit", err)
	}
	return true, nil
}

// insertContractTx relies on ON CONFLICT DO NOTHING without a target so that
// both the primary key and the one-live-contract partial index are covered.
func insertContractTx(ctx context.Context, tx *sql.Tx, c model.Contract) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT DO NOTHING
	`,
		c.ID,
		string(c.MemberID),
		c.Team,
		c.Salary,
		c.DurationYears,
		encodeTime(c.StartDate),
		encodeTime(c.ExpiresAt),
		string(c.Status),
		c.PreviousID,
	)
	if err != nil {
		return false, classify("insert contract", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("insert contract: rows affected", err)
	}
	return rows > 0, nil
}

// TransitionContract moves contract id from status from to status to.
// Returns transitioned=false if the stored status is no longer from, which
// means a concurrent writer already moved it.
func (s *Store) TransitionContract(ctx context.Context, id string, from, to model.ContractStatus, effects ...model.Effect) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify("transition contract: begin tx", err)
	}
	defer tx.Rollback()

	ok, err := transitionTx(ctx, tx, id, from, to)
	if err != nil || !ok {
		return false, err
	}
	if err := s.insertEffects(ctx, tx, effects); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify("transition contract: commit", err)
	}
	return true, nil
}

func transitionTx(ctx context.Context, tx *sql.Tx, id string, from, to model.ContractStatus) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE contracts SET status = ?, version = version + 1
		WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return false, classify("transition contract", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("transition contract: rows affected", err)
	}
	return rows > 0, nil
}

// RenewContract atomically marks prev renewed (conditional on prev.Status)
// and inserts next. Returns renewed=false without writing anything if prev
// changed status concurrently.
func (s *Store) RenewContract(ctx context.Context, prev, next model.Contract, effects ...model.Effect) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify("renew contract: begin tx", err)
	}
	defer tx.Rollback()

	ok, err := transitionTx(ctx, tx, prev.ID, prev.Status, model.ContractRenewed)
	if err != nil || !ok {
		return false, err
	}
	inserted, err := insertContractTx(ctx, tx, next)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, errs.Conflict("renew contract", next.MemberID)
	}
	if err := s.insertEffects(ctx, tx, effects); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classify("renew contract: commit", err)
	}
	return true, nil
}

// UpsertContract writes c unconditionally by id. Intended for
// administrative imports; the one-live-contract index still applies.
func (s *Store) UpsertContract(ctx context.Context, c model.Contract) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			member_id = excluded.member_id,
			team = excluded.team,
			salary = excluded.salary,
			duration_years = excluded.duration_years,
			start_date = excluded.start_date,
			expires_at = excluded.expires_at,
			status = excluded.status,
			previous_id = excluded.previous_id,
			version = contracts.version + 1
	`,
		c.ID,
		string(c.MemberID),
		c.Team,
		c.Salary,
		c.DurationYears,
		encodeTime(c.StartDate),
		encodeTime(c.ExpiresAt),
		string(c.Status),
		c.PreviousID,
	)
	return classify("upsert contract", err)
}

// QueryContracts returns contracts whose status is one of statuses,
// ordered by expiration then id. No statuses means all contracts.
func (s *Store) QueryContracts(ctx context.Context, statuses ...model.ContractStatus) ([]model.Contract, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := `SELECT ` + contractColumns + ` FROM contracts`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args[i] = string(st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY expires_at ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query contracts", err)
	}
	return collectContracts(rows, "query contracts")
}

// ListContractMemberIDs returns the ids of members with at least one contract.
func (s *Store) ListContractMemberIDs(ctx context.Context) (model.IDSet, error) {
	return s.queryIDs(ctx, "list contract member ids", `SELECT DISTINCT member_id FROM contracts`)
}
