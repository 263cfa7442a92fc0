package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwidev/therockqc/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEvent_Join(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "--format", "json", "event", "member_joined", "A", "--name", "Alice")
	require.NoError(t, err)

	var report EventReport
	resp := decodeData(t, out, &report)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, model.MemberID("A"), report.Event.MemberID)
	require.Len(t, report.Effects, 2)
	assert.Equal(t, model.EffectRoleGrant, report.Effects[0].Kind)
	assert.Equal(t, model.EffectDirectMessage, report.Effects[1].Kind)
}

func TestEvent_DuplicateJoinText(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "event", "member_joined", "A")
	require.NoError(t, err)

	out, err := execute(t, dir, "event", "member_joined", "A")
	require.NoError(t, err)
	assert.Contains(t, out, "member_joined for A: 0 effect(s)")
}

func TestEvent_UnknownType(t *testing.T) {
	out, err := execute(t, t.TempDir(), "event", "member_left", "A")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_INPUT]")
}

func TestEvent_BadTimestamp(t *testing.T) {
	_, err := execute(t, t.TempDir(), "event", "message_sent", "A", "--at", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMemberShow(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "event", "member_joined", "A", "--name", "Alice")
	require.NoError(t, err)
	_, err = execute(t, dir, "event", "message_sent", "A", "--magnitude", "7")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "member", "show", "A")
	require.NoError(t, err)

	var report MemberReport
	decodeData(t, out, &report)
	assert.Equal(t, "Alice", report.Member.DisplayName)
	assert.Equal(t, "recruit", report.Tier)
	assert.Equal(t, int64(7), report.Member.Counters.LifetimeMessages)
	require.Len(t, report.Contracts, 1)
	assert.Equal(t, model.ContractActive, report.Contracts[0].Status)

	text, err := execute(t, dir, "member", "show", "A")
	require.NoError(t, err)
	assert.Contains(t, text, "Member A (Alice)")
	assert.Contains(t, text, "Tier:       recruit (score 7)")
	assert.Contains(t, text, "active")
}

func TestMemberShow_NotFound(t *testing.T) {
	out, err := execute(t, t.TempDir(), "--format", "json", "member", "show", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeData(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestContractRenew(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "event", "member_joined", "A")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "contract", "renew", "A")
	require.NoError(t, err)

	var report RenewalReport
	decodeData(t, out, &report)
	assert.Equal(t, model.ContractRenewed, report.Previous.Status)
	assert.Equal(t, model.ContractActive, report.Contract.Status)
	assert.Equal(t, report.Previous.ID, report.Contract.PreviousID)
	assert.Equal(t, report.Previous.Team, report.Contract.Team)
}

func TestContractRenew_NoContract(t *testing.T) {
	out, err := execute(t, t.TempDir(), "contract", "renew", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no live contract")
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "event", "member_joined", "B")
	require.NoError(t, err)

	roster := writeFile(t, dir, "roster.yaml", `guild: therockqc
members:
  - id: A
    name: Alice
  - id: C
    name: Cleo
`)
	out, err := execute(t, dir, "--format", "json", "reconcile", "--roster", roster)
	require.NoError(t, err)

	var report ReconcileReport
	decodeData(t, out, &report)
	assert.Equal(t, []model.MemberID{"A", "C"}, report.Joined)
	assert.Equal(t, []model.MemberID{"B"}, report.Departed)
	assert.Empty(t, report.Failed)

	text, err := execute(t, dir, "reconcile", "--roster", roster)
	require.NoError(t, err)
	assert.Contains(t, text, "Joined:   -")
	assert.Contains(t, text, "Departed: B")
}

func TestReconcile_GuildMismatch(t *testing.T) {
	dir := t.TempDir()
	roster := writeFile(t, dir, "roster.yaml", "guild: elsewhere\nmembers: []\n")

	_, err := execute(t, dir, "reconcile", "--roster", roster)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "elsewhere")
}

func TestScanAndRollover(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned 0 live contract(s)")

	_, err = execute(t, dir, "event", "member_joined", "A")
	require.NoError(t, err)

	out, err = execute(t, dir, "--format", "json", "scan")
	require.NoError(t, err)
	var scan ScanReport
	decodeData(t, out, &scan)
	assert.Equal(t, 1, scan.Scanned)
	assert.Empty(t, scan.Expired)

	out, err = execute(t, dir, "rollover")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled over 0 member(s)")
}

func TestOutboxAndFlush(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "event", "member_joined", "A")
	require.NoError(t, err)

	out, err := execute(t, dir, "--format", "json", "outbox")
	require.NoError(t, err)
	var report struct {
		Entries []model.OutboxEntry `json:"entries"`
		Counts  map[string]int      `json:"counts"`
	}
	decodeData(t, out, &report)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, model.EffectRoleGrant, report.Entries[0].Effect.Kind)
	assert.Equal(t, 2, report.Counts["delivered"])

	out, err = execute(t, dir, "--format", "json", "outbox", "--state", "pending")
	require.NoError(t, err)
	decodeData(t, out, &report)
	assert.Empty(t, report.Entries)

	out, err = execute(t, dir, "flush")
	require.NoError(t, err)
	assert.Contains(t, out, "Delivered 0, dropped 0")
}

func TestOutbox_UnknownState(t *testing.T) {
	_, err := execute(t, t.TempDir(), "outbox", "--state", "lost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_EventStream(t *testing.T) {
	dir := t.TempDir()
	events := writeFile(t, dir, "events.jsonl", `{"type":"member_joined","member_id":"A","display_name":"Alice","at":"2026-03-10T12:00:00Z"}
{"type":"message_sent","member_id":"A","magnitude":3,"at":"2026-03-10T12:01:00Z"}
{"type":"reaction_or_tag","member_id":"A","tag":true,"at":"2026-03-10T12:02:00Z"}
`)

	out, err := execute(t, dir, "run", "--events", events)
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 3 of 3 events")

	out, err = execute(t, dir, "--format", "json", "member", "show", "A")
	require.NoError(t, err)
	var report MemberReport
	decodeData(t, out, &report)
	assert.Equal(t, int64(3), report.Member.Counters.LifetimeMessages)
	assert.Equal(t, int64(1), report.Member.Counters.Tags)
}

func TestRun_MalformedEvents(t *testing.T) {
	dir := t.TempDir()
	events := writeFile(t, dir, "events.jsonl", "{\"type\":\"member_joined\",\"member_id\":\"A\"}\nnot json\n")

	_, err := execute(t, dir, "run", "--events", events)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "event 2")
}

func TestRun_MissingEventsFile(t *testing.T) {
	_, err := execute(t, t.TempDir(), "run", "--events", "/nonexistent/events.jsonl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
