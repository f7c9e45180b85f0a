package mana

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"icn-mesh/internal/identity"
)

func did(s string) identity.DID { return identity.DID("did:key:z" + s) }

func TestSpendInsufficientBalance(t *testing.T) {
	l := NewMemoryLedger()
	l.SetBalance(did("a"), 10)
	if err := l.Spend(did("a"), 20); err != ErrInsufficientMana {
		t.Fatalf("expected ErrInsufficientMana, got %v", err)
	}
	if bal := l.GetBalance(did("a")); bal != 10 {
		t.Fatalf("balance should be unchanged on failed spend, got %d", bal)
	}
}

func TestSpendCreditRoundTrip(t *testing.T) {
	l := NewMemoryLedger()
	l.SetBalance(did("a"), 100)
	if err := l.Spend(did("a"), 40); err != nil {
		t.Fatalf("spend: %v", err)
	}
	l.Credit(did("a"), 10)
	if bal := l.GetBalance(did("a")); bal != 70 {
		t.Fatalf("expected 70, got %d", bal)
	}
}

func TestConcurrentSpendsAreLinearizable(t *testing.T) {
	l := NewMemoryLedger()
	l.SetBalance(did("a"), 1000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Spend(did("a"), 1)
		}()
	}
	wg.Wait()
	if bal := l.GetBalance(did("a")); bal != 900 {
		t.Fatalf("expected 900 after 100 concurrent spends of 1, got %d", bal)
	}
}

func TestLedgerConservation(t *testing.T) {
	// Conservation: sum(credits) - sum(spends) = sum(balances)
	l := NewMemoryLedger()
	l.Credit(did("a"), 50)
	l.Credit(did("b"), 30)
	_ = l.Spend(did("a"), 20)
	total := uint64(0)
	for _, bal := range l.AllAccounts() {
		total += bal
	}
	if total != 60 {
		t.Fatalf("expected conserved total of 60, got %d", total)
	}
}

func TestRegeneratorCreditsAllAccounts(t *testing.T) {
	l := NewMemoryLedger()
	l.SetBalance(did("a"), 0)
	l.SetBalance(did("b"), 0)
	r := NewRegenerator(l, RegenerationPolicy{Rate: 5, Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	time.Sleep(35 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	if l.GetBalance(did("a")) == 0 {
		t.Fatalf("expected regeneration to credit account a")
	}
}

func TestPersistentLedgerReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mana.wal")

	l1, err := OpenPersistentLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l1.SetBalance(did("a"), 100)
	if err := l1.Spend(did("a"), 40); err != nil {
		t.Fatalf("spend: %v", err)
	}
	l1.Credit(did("a"), 5)
	if err := l1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := OpenPersistentLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if bal := l2.GetBalance(did("a")); bal != 65 {
		t.Fatalf("expected balance 65 after replay, got %d", bal)
	}
}

func TestPersistentLedgerRejectsSpendPastBalance(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenPersistentLedger(filepath.Join(dir, "mana.wal"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	l.SetBalance(did("a"), 10)
	if err := l.Spend(did("a"), 20); err != ErrInsufficientMana {
		t.Fatalf("expected ErrInsufficientMana, got %v", err)
	}
	if bal := l.GetBalance(did("a")); bal != 10 {
		t.Fatalf("balance should be unchanged on failed spend, got %d", bal)
	}
}

func TestRegeneratorPerDIDBonus(t *testing.T) {
	l := NewMemoryLedger()
	l.SetBalance(did("vip"), 0)
	r := NewRegenerator(l, RegenerationPolicy{
		Rate:     1,
		Interval: 10 * time.Millisecond,
		PerDID:   map[identity.DID]uint64{did("vip"): 10},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	if bal := l.GetBalance(did("vip")); bal < 11 {
		t.Fatalf("expected vip bonus applied on top of flat rate, got %d", bal)
	}
}
