// Package mana implements the ICN mana ledger: per-DID spendable balances
// with atomic spend/credit and background regeneration.
package mana

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/identity"
)

// ErrInsufficientMana is returned by Spend when balance < amount.
var ErrInsufficientMana = errors.New("mana: insufficient balance")

// Ledger is the capability abstraction the mana subsystem exposes. All
// mutating operations are atomic per-DID; CreditAll is used by the
// background regenerator.
type Ledger interface {
	GetBalance(did identity.DID) uint64
	SetBalance(did identity.DID, amt uint64)
	Spend(did identity.DID, amt uint64) error
	Credit(did identity.DID, amt uint64)
	CreditAll(amt uint64)
	AllAccounts() map[identity.DID]uint64
}

// account pairs a balance with its own mutex so spends on unrelated DIDs
// never serialize on each other: linearizable per-DID, not globally
// serialized behind a single coarse lock.
type account struct {
	mu      sync.Mutex
	balance uint64
}

// MemoryLedger is the default in-memory ledger implementation.
type MemoryLedger struct {
	mu       sync.RWMutex // guards the accounts map's structure (insert of new DIDs)
	accounts map[identity.DID]*account
	log      *log.Entry
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[identity.DID]*account),
		log:      log.WithField("component", "mana"),
	}
}

func (l *MemoryLedger) acquire(did identity.DID) *account {
	l.mu.RLock()
	a, ok := l.accounts[did]
	l.mu.RUnlock()
	if ok {
		return a
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[did]; ok {
		return a
	}
	a = &account{}
	l.accounts[did] = a
	return a
}

func (l *MemoryLedger) GetBalance(did identity.DID) uint64 {
	a := l.acquire(did)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

func (l *MemoryLedger) SetBalance(did identity.DID, amt uint64) {
	a := l.acquire(did)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = amt
}

// Spend debits amt from did's balance. It is atomic: the balance check and
// debit happen under the same per-account lock, so concurrent spends on
// one DID can never overdraw it.
func (l *MemoryLedger) Spend(did identity.DID, amt uint64) error {
	a := l.acquire(did)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance < amt {
		return ErrInsufficientMana
	}
	a.balance -= amt
	return nil
}

func (l *MemoryLedger) Credit(did identity.DID, amt uint64) {
	a := l.acquire(did)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += amt
}

// CreditAll credits every known account by amt; used by the Regenerator.
func (l *MemoryLedger) CreditAll(amt uint64) {
	l.mu.RLock()
	dids := make([]identity.DID, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.RUnlock()
	for _, did := range dids {
		l.Credit(did, amt)
	}
}

func (l *MemoryLedger) AllAccounts() map[identity.DID]uint64 {
	l.mu.RLock()
	dids := make([]identity.DID, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.RUnlock()
	out := make(map[identity.DID]uint64, len(dids))
	for _, did := range dids {
		out[did] = l.GetBalance(did)
	}
	return out
}
