// Package community is the single code path for joins, activity, scans,
// rollovers and renewals. Live events and reconciliation both go through
// it, so recovery never has mutation logic of its own.
package community

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lwidev/therockqc/internal/contract"
	"github.com/lwidev/therockqc/internal/effect"
	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/reputation"
)

// Service wires the accumulator, the lifecycle and the dispatcher.
type Service struct {
	acc    *reputation.Accumulator
	lc     *contract.Lifecycle
	disp   *effect.Dispatcher
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Service. A nil now defaults to time.Now.
func New(acc *reputation.Accumulator, lc *contract.Lifecycle, disp *effect.Dispatcher, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{acc: acc, lc: lc, disp: disp, now: now, logger: logger}
}

// Accumulator returns the reputation accumulator.
func (s *Service) Accumulator() *reputation.Accumulator { return s.acc }

// Lifecycle returns the contract lifecycle.
func (s *Service) Lifecycle() *contract.Lifecycle { return s.lc }

// Dispatcher returns the effect dispatcher.
func (s *Service) Dispatcher() *effect.Dispatcher { return s.disp }

// JoinResult is the outcome of Join.
type JoinResult struct {
	Member          model.Member
	MemberCreated   bool
	Contract        model.Contract
	ContractCreated bool
	Effects         []model.Effect
}

// Join registers a member and issues the entry contract. It does not
// deliver effects; callers deliver or defer them.
//
// A duplicate join leaves the member untouched. A known member without any
// contract history (interrupted earlier join) is issued one.
func (s *Service) Join(ctx context.Context, id model.MemberID, displayName string, joinedAt time.Time) (JoinResult, error) {
	if joinedAt.IsZero() {
		joinedAt = s.now()
	}
	reg, err := s.acc.Register(ctx, id, displayName, joinedAt)
	if err != nil {
		return JoinResult{}, err
	}
	res := JoinResult{Member: reg.Member, MemberCreated: reg.Created, Effects: reg.Effects}

	if !reg.Created {
		current, ok, err := s.lc.Current(ctx, id)
		if err != nil {
			return res, fmt.Errorf("join %s: %w", id, err)
		}
		if ok {
			res.Contract = current
			return res, nil
		}
		s.logger.Info("member without contract, issuing entry contract", "member_id", id)
	}

	issue, err := s.lc.IssueEntryContract(ctx, id)
	if err != nil {
		return res, err
	}
	res.Contract = issue.Contract
	res.ContractCreated = issue.Created
	res.Effects = append(res.Effects, issue.Effects...)
	return res, nil
}

// HandleEvent applies one live platform event and delivers the effects it
// produced. Activity from a member with no record is treated as a missed
// join first.
func (s *Service) HandleEvent(ctx context.Context, ev gateway.Event) ([]model.Effect, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	if ev.Type == gateway.EventMemberJoined {
		res, err := s.Join(ctx, ev.MemberID, ev.DisplayName, ev.At)
		if err != nil {
			return nil, err
		}
		s.deliver(ctx, res.Effects)
		return res.Effects, nil
	}

	kind, _ := ev.ActivityKind()
	act := reputation.Activity{MemberID: ev.MemberID, Kind: kind, Magnitude: ev.Magnitude, At: ev.At}

	var effects []model.Effect
	res, err := s.acc.RecordActivity(ctx, act)
	if errs.IsNotFound(err) {
		s.logger.Info("activity from unknown member, treating as join", "member_id", ev.MemberID)
		joined, joinErr := s.Join(ctx, ev.MemberID, ev.DisplayName, ev.At)
		if joinErr != nil {
			return nil, joinErr
		}
		effects = append(effects, joined.Effects...)
		res, err = s.acc.RecordActivity(ctx, act)
	}
	if err != nil {
		s.deliver(ctx, effects)
		return effects, err
	}
	effects = append(effects, res.Effects...)
	s.deliver(ctx, effects)
	return effects, nil
}

// Scan runs the contract expiration scan and delivers its notices.
func (s *Service) Scan(ctx context.Context) (contract.Report, error) {
	report, err := s.lc.CheckExpiringContracts(ctx)
	s.deliver(ctx, report.Effects)
	return report, err
}

// Rollover zeroes stale daily counters and delivers resulting role changes.
func (s *Service) Rollover(ctx context.Context) (int, error) {
	rolled, effects, err := s.acc.RolloverAll(ctx, s.now())
	s.deliver(ctx, effects)
	return rolled, err
}

// Renew renews the member's live contract and delivers the notice.
func (s *Service) Renew(ctx context.Context, id model.MemberID) (contract.Renewal, error) {
	renewal, err := s.lc.Renew(ctx, id)
	if err != nil {
		return contract.Renewal{}, err
	}
	s.deliver(ctx, renewal.Effects)
	return renewal, nil
}

// deliver sends exactly the given effects. Delivery problems never fail
// the state change that produced them; they stay in the outbox for the
// next flush.
func (s *Service) deliver(ctx context.Context, effects []model.Effect) {
	if len(effects) == 0 || s.disp == nil {
		return
	}
	if _, err := s.disp.Deliver(ctx, model.Keys(effects)...); err != nil {
		s.logger.Warn("effect delivery deferred", "count", len(effects), "error", err)
	}
}
