package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestContract creates a live contract with minimal required fields.
func createTestContract(id string, memberID model.MemberID, status model.ContractStatus, expiresAt time.Time) model.Contract {
	return model.Contract{
		ID:            id,
		MemberID:      memberID,
		Team:          "Remparts",
		Salary:        150_000_00,
		DurationYears: 3,
		StartDate:     expiresAt.AddDate(-3, 0, 0),
		ExpiresAt:     expiresAt,
		Status:        status,
	}
}

func dm(member model.MemberID, target string) model.Effect {
	return model.Effect{Kind: model.EffectDirectMessage, MemberID: member, Target: target, Body: "hi"}
}
