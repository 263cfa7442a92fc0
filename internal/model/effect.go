package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EffectKind identifies an observable side effect on the platform.
type EffectKind string

const (
	EffectRoleGrant     EffectKind = "role_grant"
	EffectRoleRevoke    EffectKind = "role_revoke"
	EffectDirectMessage EffectKind = "direct_message"
	EffectRoleChange    EffectKind = "role_change"
)

// Effect is a side effect derived from a state transition.
//
// Target is the natural target value: a role name for role effects, a
// logical message id (e.g. "welcome:<contract>") for direct messages.
// From is only set for role changes and names the role being replaced.
type Effect struct {
	Kind     EffectKind `json:"kind"`
	MemberID MemberID   `json:"member_id"`
	Target   string     `json:"target"`
	From     string     `json:"from,omitempty"`
	Body     string     `json:"body,omitempty"`
}

// DomainEffect separates effect keys from any other hash in the system.
// Version suffix enables future algorithm migration.
const DomainEffect = "therockqc/effect/v1"

// Key returns the idempotency key of the effect.
// The key covers member, kind and target value; Body is excluded so that a
// re-rendered message for the same logical notification maps to the same key.
func (e Effect) Key() string {
	target := e.Target
	if e.Kind == EffectRoleChange {
		target = e.From + ">" + e.Target
	}
	return hashWithDomain(DomainEffect, string(e.MemberID), string(e.Kind), target)
}

// String renders the effect for logs.
func (e Effect) String() string {
	if e.From != "" {
		return fmt.Sprintf("%s(%s: %s -> %s)", e.Kind, e.MemberID, e.From, e.Target)
	}
	return fmt.Sprintf("%s(%s: %s)", e.Kind, e.MemberID, e.Target)
}

// hashWithDomain computes SHA-256 over domain and parts, each followed by a
// null byte so that part boundaries are unambiguous.
func hashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EffectState is the delivery state of an outbox entry.
type EffectState string

const (
	EffectPending   EffectState = "pending"
	EffectSending   EffectState = "sending"
	EffectDelivered EffectState = "delivered"
	EffectDropped   EffectState = "dropped"
)

// OutboxEntry is a persisted effect awaiting or past delivery.
type OutboxEntry struct {
	Key       string      `json:"key"`
	Effect    Effect      `json:"effect"`
	State     EffectState `json:"state"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Keys returns the idempotency keys of effects, in order.
func Keys(effects []Effect) []string {
	keys := make([]string, len(effects))
	for i, e := range effects {
		keys[i] = e.Key()
	}
	return keys
}
