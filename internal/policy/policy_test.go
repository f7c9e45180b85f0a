package policy

import (
	"testing"

	"icn-mesh/internal/identity"
)

const opSubmit Op = "dag.put"

func mustDID(t *testing.T) identity.DID {
	t.Helper()
	s, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s.DID()
}

func TestCheckDeniesUnlistedActor(t *testing.T) {
	e := NewEnforcer()
	actor := mustDID(t)
	d := e.Check(Request{Actor: actor, Op: opSubmit})
	if d.Allowed {
		t.Fatal("expected denial for actor with no allow-list entry")
	}
}

func TestCheckAllowsListedActorNoScope(t *testing.T) {
	e := NewEnforcer()
	actor := mustDID(t)
	e.Allow(opSubmit, actor)
	d := e.Check(Request{Actor: actor, Op: opSubmit})
	if !d.Allowed {
		t.Fatalf("expected allow, got %v", d)
	}
}

func TestCheckDeniesNonScopeMember(t *testing.T) {
	e := NewEnforcer()
	actor := mustDID(t)
	e.Allow(opSubmit, actor)
	d := e.Check(Request{Actor: actor, Op: opSubmit, Scope: "federation-a"})
	if d.Allowed {
		t.Fatal("expected denial: actor is not a member of the scope")
	}
}

func TestCheckAllowsScopeMember(t *testing.T) {
	e := NewEnforcer()
	actor := mustDID(t)
	e.Allow(opSubmit, actor)
	e.AddScopeMember("federation-a", actor)
	d := e.Check(Request{Actor: actor, Op: opSubmit, Scope: "federation-a"})
	if !d.Allowed {
		t.Fatalf("expected allow, got %v", d)
	}
}

func TestCheckRequiresCredentialProofWhenConfigured(t *testing.T) {
	e := NewEnforcer()
	actor := mustDID(t)
	e.Allow(opSubmit, actor)
	e.RequireCredentialProof = true
	e.CredentialVerifier = func(did identity.DID, proof CredentialProof) bool {
		return proof.ClaimSchema == "federation-membership" && len(proof.Proof) > 0
	}

	if d := e.Check(Request{Actor: actor, Op: opSubmit}); d.Allowed {
		t.Fatal("expected denial: no proof supplied")
	}

	bad := CredentialProof{ClaimSchema: "wrong-schema", Proof: []byte("x")}
	if d := e.Check(Request{Actor: actor, Op: opSubmit, Proof: &bad}); d.Allowed {
		t.Fatal("expected denial: proof fails verifier")
	}

	good := CredentialProof{ClaimSchema: "federation-membership", Proof: []byte("x")}
	if d := e.Check(Request{Actor: actor, Op: opSubmit, Proof: &good}); !d.Allowed {
		t.Fatalf("expected allow, got %v", d)
	}
}
