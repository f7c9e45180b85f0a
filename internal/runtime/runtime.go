// Package runtime composes the node's capabilities — signer, DAG store,
// mana ledger, reputation store, network service and policy enforcer —
// into a single Context value by explicit construction: there is no
// process-wide singleton.
package runtime

import (
	"fmt"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/identity"
	"icn-mesh/internal/mana"
	"icn-mesh/internal/meshnet"
	"icn-mesh/internal/policy"
	"icn-mesh/internal/reputation"
)

// Context composes every capability the mesh job manager depends on.
type Context struct {
	Signer     identity.Signer
	DAG        dag.Store
	Mana       mana.Ledger
	Reputation reputation.Store
	Network    meshnet.Service
	Policy     *policy.Enforcer
}

// StubComponentError reports that a capability resolved to an in-memory/test
// stand-in where production semantics were required. Each stub
// implementation (MemorySigner, in-memory DAG store, MemoryService, ...)
// is named so a production context builder can refuse to start with any
// of them wired in.
type StubComponentError struct {
	Component string
}

func (e *StubComponentError) Error() string {
	return fmt.Sprintf("runtime: refusing to start in production mode: %s resolves to an in-memory/stub implementation", e.Component)
}

// NewProductionContext builds a Context, refusing to start if any capability
// is a known stub/in-memory implementation unsuited to production use.
func NewProductionContext(c Context) (*Context, error) {
	if _, ok := c.Signer.(*identity.MemorySigner); ok {
		return nil, &StubComponentError{Component: "identity.Signer (MemorySigner)"}
	}
	if _, ok := c.DAG.(*dag.MemoryStore); ok {
		return nil, &StubComponentError{Component: "dag.Store (MemoryStore)"}
	}
	if _, ok := c.Mana.(*mana.MemoryLedger); ok {
		return nil, &StubComponentError{Component: "mana.Ledger (MemoryLedger, non-persistent)"}
	}
	if _, ok := c.Reputation.(*reputation.MemoryStore); ok {
		return nil, &StubComponentError{Component: "reputation.Store (MemoryStore, non-persistent)"}
	}
	if _, ok := c.Network.(*meshnet.MemoryService); ok {
		return nil, &StubComponentError{Component: "meshnet.Service (MemoryService)"}
	}
	if c.Policy == nil {
		return nil, &StubComponentError{Component: "policy.Enforcer (nil)"}
	}
	ctx := c
	return &ctx, nil
}

// NewTestContext builds a Context without the production stub refusal,
// for use by tests and local single-node scenarios. Callers are expected to
// pass in-memory components explicitly.
func NewTestContext(c Context) *Context {
	ctx := c
	return &ctx
}
