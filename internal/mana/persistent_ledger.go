package mana

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/identity"
)

// PersistentLedger is the durable mana ledger: a write-ahead log of
// balance mutations replayed on open. It obeys the identical contract as
// MemoryLedger — Spend/Credit/SetBalance mutate the in-memory ledger first
// (so per-DID atomicity is unchanged) and only then append the record,
// mirroring internal/dag's PersistentStore.
type PersistentLedger struct {
	mu  sync.Mutex
	mem *MemoryLedger
	wal *os.File
	log *log.Entry
}

type walRecord struct {
	Op  string       `json:"op"` // "set", "spend", "credit"
	DID identity.DID `json:"did"`
	Amt uint64       `json:"amt"`
}

// OpenPersistentLedger opens (creating if absent) the WAL file at path and
// replays it to rebuild in-memory balances.
func OpenPersistentLedger(path string) (*PersistentLedger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mana: open wal: %w", err)
	}
	l := &PersistentLedger{
		mem: NewMemoryLedger(),
		wal: f,
		log: log.WithField("component", "mana-persistent"),
	}
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *PersistentLedger) replay() error {
	if _, err := l.wal.Seek(0, 0); err != nil {
		return fmt.Errorf("mana: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(l.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("mana: wal unmarshal: %w", err)
		}
		if err := l.applyRecord(rec); err != nil {
			return fmt.Errorf("mana: wal replay: %w", err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mana: wal scan: %w", err)
	}
	if _, err := l.wal.Seek(0, 2); err != nil {
		return fmt.Errorf("mana: seek wal end: %w", err)
	}
	l.log.Infof("replayed %d wal records", count)
	return nil
}

func (l *PersistentLedger) applyRecord(rec walRecord) error {
	switch rec.Op {
	case "set":
		l.mem.SetBalance(rec.DID, rec.Amt)
		return nil
	case "spend":
		return l.mem.Spend(rec.DID, rec.Amt)
	case "credit":
		l.mem.Credit(rec.DID, rec.Amt)
		return nil
	default:
		return fmt.Errorf("unknown wal op %q", rec.Op)
	}
}

func (l *PersistentLedger) append(rec walRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.wal.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("mana: wal append: %w", err)
	}
	return l.wal.Sync()
}

func (l *PersistentLedger) GetBalance(did identity.DID) uint64 { return l.mem.GetBalance(did) }

func (l *PersistentLedger) SetBalance(did identity.DID, amt uint64) {
	l.mem.SetBalance(did, amt)
	if err := l.append(walRecord{Op: "set", DID: did, Amt: amt}); err != nil {
		l.log.Warnf("append set-balance record for %s: %v", did, err)
	}
}

// Spend debits amt from did's balance. The in-memory debit and the balance
// check happen first under MemoryLedger's own per-account lock; the WAL
// append is only reached on success, so a failed spend never appears in
// the durable log.
func (l *PersistentLedger) Spend(did identity.DID, amt uint64) error {
	if err := l.mem.Spend(did, amt); err != nil {
		return err
	}
	return l.append(walRecord{Op: "spend", DID: did, Amt: amt})
}

func (l *PersistentLedger) Credit(did identity.DID, amt uint64) {
	l.mem.Credit(did, amt)
	if err := l.append(walRecord{Op: "credit", DID: did, Amt: amt}); err != nil {
		l.log.Warnf("append credit record for %s: %v", did, err)
	}
}

// CreditAll credits every known account by amt; used by the Regenerator.
func (l *PersistentLedger) CreditAll(amt uint64) {
	for did := range l.mem.AllAccounts() {
		l.Credit(did, amt)
	}
}

func (l *PersistentLedger) AllAccounts() map[identity.DID]uint64 { return l.mem.AllAccounts() }

// Close flushes and closes the underlying WAL file. Implementations must
// flush on drop.
func (l *PersistentLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wal.Close()
}
