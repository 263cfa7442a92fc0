package model

import (
	"fmt"
	"time"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	ContractActive       ContractStatus = "active"
	ContractExpiringSoon ContractStatus = "expiring_soon"
	ContractExpired      ContractStatus = "expired"
	ContractRenewed      ContractStatus = "renewed"
)

// LiveStatuses are the statuses of which a member may hold at most one.
var LiveStatuses = []ContractStatus{ContractActive, ContractExpiringSoon}

// Live reports whether the status counts against the one-live-contract rule.
func (s ContractStatus) Live() bool {
	return s == ContractActive || s == ContractExpiringSoon
}

// ParseContractStatus validates a stored status value.
func ParseContractStatus(s string) (ContractStatus, error) {
	switch st := ContractStatus(s); st {
	case ContractActive, ContractExpiringSoon, ContractExpired, ContractRenewed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown contract status %q", s)
	}
}

// Contract is a simulated player contract.
//
// Team and Salary never change after issuance; a renewal writes a new
// record whose PreviousID points at the renewed one.
type Contract struct {
	ID            string         `json:"id"`
	MemberID      MemberID       `json:"member_id"`
	Team          string         `json:"team"`
	Salary        int64          `json:"salary"` // minor currency units
	DurationYears int            `json:"duration_years"`
	StartDate     time.Time      `json:"start_date"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Status        ContractStatus `json:"status"`
	PreviousID    string         `json:"previous_id,omitempty"`
	Version       int64          `json:"version"`
}

// ExpirationFor computes the expiration of a contract starting at start.
func ExpirationFor(start time.Time, durationYears int) time.Time {
	return start.AddDate(durationYears, 0, 0)
}
