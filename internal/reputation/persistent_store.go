package reputation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/identity"
	"icn-mesh/internal/types"
)

// PersistentStore is the durable reputation store: a write-ahead log of
// recorded receipts replayed on open. It obeys the identical contract as
// MemoryStore, mirroring internal/dag's PersistentStore WAL pattern.
type PersistentStore struct {
	mu  sync.Mutex
	mem *MemoryStore
	wal *os.File
	log *log.Entry
}

type walRecord struct {
	Receipt *types.ExecutionReceipt `json:"receipt"`
}

// OpenPersistentStore opens (creating if absent) the WAL file at path and
// replays it to rebuild in-memory scores.
func OpenPersistentStore(path string) (*PersistentStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("reputation: open wal: %w", err)
	}
	s := &PersistentStore{
		mem: NewMemoryStore(),
		wal: f,
		log: log.WithField("component", "reputation-persistent"),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *PersistentStore) replay() error {
	if _, err := s.wal.Seek(0, 0); err != nil {
		return fmt.Errorf("reputation: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(s.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("reputation: wal unmarshal: %w", err)
		}
		s.mem.RecordReceipt(rec.Receipt)
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reputation: wal scan: %w", err)
	}
	if _, err := s.wal.Seek(0, 2); err != nil {
		return fmt.Errorf("reputation: seek wal end: %w", err)
	}
	s.log.Infof("replayed %d wal records", count)
	return nil
}

func (s *PersistentStore) append(receipt *types.ExecutionReceipt) error {
	raw, err := json.Marshal(walRecord{Receipt: receipt})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.wal.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("reputation: wal append: %w", err)
	}
	return s.wal.Sync()
}

func (s *PersistentStore) GetReputation(did identity.DID) uint64 { return s.mem.GetReputation(did) }

// RecordReceipt applies the fixed update rule via the in-memory store (whose
// own seen-set guards idempotence per job_id) and appends to the
// WAL only the first time a given job_id is actually recorded, so a
// duplicate receipt never double-appends.
func (s *PersistentStore) RecordReceipt(receipt *types.ExecutionReceipt) {
	if s.mem.HasRecorded(receipt.JobID.String()) {
		return
	}
	s.mem.RecordReceipt(receipt)
	if err := s.append(receipt); err != nil {
		s.log.Warnf("append receipt record for job %s: %v", receipt.JobID, err)
	}
}

func (s *PersistentStore) HasRecorded(jobID string) bool { return s.mem.HasRecorded(jobID) }

func (s *PersistentStore) TopN(n int) []ScoredDID { return s.mem.TopN(n) }

// Close flushes and closes the underlying WAL file. Implementations must
// flush on drop.
func (s *PersistentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
