package reconcile

import (
	"sort"
	"time"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
)

// Snapshot is the read-only input of a pass.
type Snapshot struct {
	At time.Time
	// Live is the platform roster at At.
	Live []gateway.RosterMember
	// Persisted holds every member with a record.
	Persisted model.IDSet
	// WithContracts holds every member with at least one contract.
	WithContracts model.IDSet
	// LiveContracts are the Active and ExpiringSoon contracts.
	LiveContracts []model.Contract
}

// Diff partitions a snapshot into the actions a pass replays.
type Diff struct {
	// MissedJoins are live members with no record.
	MissedJoins []gateway.RosterMember
	// Departed are persisted members no longer live. They are reported,
	// never modified.
	Departed []model.MemberID
	// MissingContracts are live members with a record but no contract
	// history, left behind by an interrupted join.
	MissingContracts []model.MemberID
	// Overdue are live-status contracts whose expiration passed strictly
	// before the snapshot time.
	Overdue []model.Contract
}

// Empty reports whether the pass has nothing to replay.
func (d Diff) Empty() bool {
	return len(d.MissedJoins) == 0 && len(d.MissingContracts) == 0 && len(d.Overdue) == 0
}

// ComputeDiff is a pure function of the snapshot, so a pass abandoned
// midway recomputes the same remaining work next time.
func ComputeDiff(s Snapshot) Diff {
	var d Diff
	live := model.NewIDSet()
	for _, m := range s.Live {
		if live.Has(m.ID) {
			continue
		}
		live.Add(m.ID)
		switch {
		case !s.Persisted.Has(m.ID):
			d.MissedJoins = append(d.MissedJoins, m)
		case !s.WithContracts.Has(m.ID):
			d.MissingContracts = append(d.MissingContracts, m.ID)
		}
	}
	sort.Slice(d.MissedJoins, func(i, j int) bool { return d.MissedJoins[i].ID < d.MissedJoins[j].ID })
	sort.Slice(d.MissingContracts, func(i, j int) bool { return d.MissingContracts[i] < d.MissingContracts[j] })

	d.Departed = s.Persisted.Minus(live)

	for _, c := range s.LiveContracts {
		if c.Status.Live() && c.ExpiresAt.Before(s.At) {
			d.Overdue = append(d.Overdue, c)
		}
	}
	sort.Slice(d.Overdue, func(i, j int) bool {
		if !d.Overdue[i].ExpiresAt.Equal(d.Overdue[j].ExpiresAt) {
			return d.Overdue[i].ExpiresAt.Before(d.Overdue[j].ExpiresAt)
		}
		return d.Overdue[i].ID < d.Overdue[j].ID
	})
	return d
}
