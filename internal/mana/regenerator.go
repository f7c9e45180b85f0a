package mana

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/identity"
)

// RegenerationPolicy controls the background mana regenerator. Rate is the
// flat amount credited to every account each tick; PerDID optionally
// overrides that rate for specific DIDs (e.g. higher-tier federation
// members), applied on top of the flat rate as a bonus.
type RegenerationPolicy struct {
	Rate     uint64
	Interval time.Duration
	PerDID   map[identity.DID]uint64
}

// DefaultRegenerationPolicy regenerates 1 mana per account every second.
func DefaultRegenerationPolicy() RegenerationPolicy {
	return RegenerationPolicy{Rate: 1, Interval: time.Second}
}

// Regenerator periodically credits accounts at a configured rate. It is not
// on spend's critical path: Spend never waits on it.
type Regenerator struct {
	ledger Ledger
	policy RegenerationPolicy
	log    *log.Entry
}

// NewRegenerator constructs a regenerator for ledger under policy.
func NewRegenerator(ledger Ledger, policy RegenerationPolicy) *Regenerator {
	return &Regenerator{ledger: ledger, policy: policy, log: log.WithField("component", "mana-regen")}
}

// Run ticks until ctx is cancelled, crediting every known account each
// interval. Per-DID overrides in policy.PerDID are applied after the flat
// CreditAll pass so they compose as "at least the flat rate, plus a bonus".
func (r *Regenerator) Run(ctx context.Context) {
	interval := r.policy.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("regenerator shutting down")
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Regenerator) tick() {
	if r.policy.Rate > 0 {
		r.ledger.CreditAll(r.policy.Rate)
	}
	for did, bonus := range r.policy.PerDID {
		if bonus > 0 {
			r.ledger.Credit(did, bonus)
		}
	}
}
