// Package policy implements the ICN policy enforcer: a synchronous,
// side-effect-free gate on DAG writes and other submit-class operations.
package policy

import (
	"fmt"

	"icn-mesh/internal/identity"
)

// Op names an operation the enforcer can gate (e.g. "dag.put", "job.submit").
type Op string

// Decision is the outcome of a Check: either Allowed or Denied{reason}.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied: %s", d.Reason)
}

// CredentialProof is an opaque proof blob plus the claim schema it is
// checked against. The ZK credential circuitry itself lives outside this
// module; CredentialVerifier is the boundary a real implementation plugs
// into.
type CredentialProof struct {
	ClaimSchema string
	Proof       []byte
}

// CredentialVerifier checks a supplied proof against a claim schema. The
// concrete cryptography is never implemented by this package.
type CredentialVerifier func(did identity.DID, proof CredentialProof) bool

// Request is everything a Check call needs to evaluate.
type Request struct {
	Actor identity.DID
	Op    Op
	Scope string // empty if the op/block carries no scope tag
	Proof *CredentialProof
}

// Enforcer gates DAG writes and other submit-class operations.
// Every field is read-only after construction from Check's point of view;
// Check never mutates Enforcer state, matching "enforcement is synchronous
// and side effect free."
type Enforcer struct {
	// AllowList maps an op to the set of DIDs permitted to perform it.
	AllowList map[Op]map[identity.DID]struct{}
	// ScopeMembers maps a scope name to its member DIDs.
	ScopeMembers map[string]map[identity.DID]struct{}
	// RequireCredentialProof, when true, rejects any request missing a Proof
	// or whose Proof fails CredentialVerifier.
	RequireCredentialProof bool
	CredentialVerifier     CredentialVerifier
}

// NewEnforcer constructs an Enforcer with empty allow-lists; callers
// populate AllowList/ScopeMembers directly (small, static configuration,
// plain exported fields rather than builder methods for this kind of
// table).
func NewEnforcer() *Enforcer {
	return &Enforcer{
		AllowList:    make(map[Op]map[identity.DID]struct{}),
		ScopeMembers: make(map[string]map[identity.DID]struct{}),
	}
}

// Allow grants actor permission to perform op.
func (e *Enforcer) Allow(op Op, actor identity.DID) {
	m, ok := e.AllowList[op]
	if !ok {
		m = make(map[identity.DID]struct{})
		e.AllowList[op] = m
	}
	m[actor] = struct{}{}
}

// AddScopeMember adds actor to scope's membership set.
func (e *Enforcer) AddScopeMember(scope string, actor identity.DID) {
	m, ok := e.ScopeMembers[scope]
	if !ok {
		m = make(map[identity.DID]struct{})
		e.ScopeMembers[scope] = m
	}
	m[actor] = struct{}{}
}

// Check evaluates req against the configured allow-list, scope membership,
// and credential-proof requirement, in that order.
func (e *Enforcer) Check(req Request) Decision {
	allowed, ok := e.AllowList[req.Op]
	if !ok {
		return deny(fmt.Sprintf("no allow-list configured for op %q", req.Op))
	}
	if _, permitted := allowed[req.Actor]; !permitted {
		return deny(fmt.Sprintf("actor %s not in allow-list for op %q", req.Actor, req.Op))
	}

	if req.Scope != "" {
		members, ok := e.ScopeMembers[req.Scope]
		if !ok {
			return deny(fmt.Sprintf("scope %q has no membership configured", req.Scope))
		}
		if _, member := members[req.Actor]; !member {
			return deny(fmt.Sprintf("actor %s not a member of scope %q", req.Actor, req.Scope))
		}
	}

	if e.RequireCredentialProof {
		if req.Proof == nil {
			return deny("credential proof required but not supplied")
		}
		if e.CredentialVerifier == nil {
			return deny("credential proof required but no verifier configured")
		}
		if !e.CredentialVerifier(req.Actor, *req.Proof) {
			return deny("credential proof failed verification")
		}
	}

	return allow()
}
