package dag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PersistentStore is the durable DAG store: a write-ahead log of admitted
// blocks replayed on open. It obeys the identical contract as MemoryStore.
//
// The abstract persisted layout is two logical tables keyed by CID string
// form: blocks and metadata. Here both live in one append-only
// log of JSON records; the in-memory index is rebuilt from the log at open.
type PersistentStore struct {
	mu  sync.RWMutex
	mem *MemoryStore // serves all reads/writes once loaded
	wal *os.File
	log *log.Entry
}

type walRecord struct {
	Op    string     `json:"op"` // "put", "pin", "unpin", "ttl", "delete"
	Block *DagBlock  `json:"block,omitempty"`
	CID   string     `json:"cid,omitempty"`
	TTL   *time.Time `json:"ttl,omitempty"`
}

// OpenPersistentStore opens (creating if absent) the WAL file at path and
// replays it to rebuild in-memory state.
func OpenPersistentStore(path string) (*PersistentStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("dag: open wal: %w", err)
	}
	s := &PersistentStore{
		mem: NewMemoryStore(),
		wal: f,
		log: log.WithField("component", "dag-persistent"),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *PersistentStore) replay() error {
	if _, err := s.wal.Seek(0, 0); err != nil {
		return fmt.Errorf("dag: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(s.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("dag: wal unmarshal: %w", err)
		}
		if err := s.applyRecord(rec); err != nil {
			return fmt.Errorf("dag: wal replay: %w", err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("dag: wal scan: %w", err)
	}
	if _, err := s.wal.Seek(0, 2); err != nil {
		return fmt.Errorf("dag: seek wal end: %w", err)
	}
	s.log.Infof("replayed %d wal records", count)
	return nil
}

func (s *PersistentStore) applyRecord(rec walRecord) error {
	switch rec.Op {
	case "put":
		return s.mem.Put(rec.Block)
	case "pin":
		c, err := ParseCID(rec.CID)
		if err != nil {
			return err
		}
		return s.mem.Pin(c)
	case "unpin":
		c, err := ParseCID(rec.CID)
		if err != nil {
			return err
		}
		return s.mem.Unpin(c)
	case "ttl":
		c, err := ParseCID(rec.CID)
		if err != nil {
			return err
		}
		return s.mem.SetTTL(c, *rec.TTL)
	case "delete":
		c, err := ParseCID(rec.CID)
		if err != nil {
			return err
		}
		return s.mem.Delete(c)
	default:
		return fmt.Errorf("unknown wal op %q", rec.Op)
	}
}

func (s *PersistentStore) append(rec walRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.wal.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("dag: wal append: %w", err)
	}
	return s.wal.Sync()
}

func (s *PersistentStore) Put(b *DagBlock) error {
	if s.mem.Contains(b.CID) {
		return nil // idempotent, mirrors MemoryStore without double-appending the WAL
	}
	if err := s.mem.Put(b); err != nil {
		return err
	}
	return s.append(walRecord{Op: "put", Block: b})
}

func (s *PersistentStore) Get(c CID) (*DagBlock, error) { return s.mem.Get(c) }
func (s *PersistentStore) Contains(c CID) bool          { return s.mem.Contains(c) }
func (s *PersistentStore) List() []CID                  { return s.mem.List() }

func (s *PersistentStore) Delete(c CID) error {
	if err := s.mem.Delete(c); err != nil {
		return err
	}
	return s.append(walRecord{Op: "delete", CID: c.String()})
}

func (s *PersistentStore) Pin(c CID) error {
	if err := s.mem.Pin(c); err != nil {
		return err
	}
	return s.append(walRecord{Op: "pin", CID: c.String()})
}

func (s *PersistentStore) Unpin(c CID) error {
	if err := s.mem.Unpin(c); err != nil {
		return err
	}
	return s.append(walRecord{Op: "unpin", CID: c.String()})
}

func (s *PersistentStore) SetTTL(c CID, ttl time.Time) error {
	if err := s.mem.SetTTL(c, ttl); err != nil {
		return err
	}
	return s.append(walRecord{Op: "ttl", CID: c.String(), TTL: &ttl})
}

func (s *PersistentStore) GetMetadata(c CID) (BlockMetadata, error) { return s.mem.GetMetadata(c) }

func (s *PersistentStore) PruneExpired(now time.Time) []CID {
	removed := s.mem.PruneExpired(now)
	for _, c := range removed {
		_ = s.append(walRecord{Op: "delete", CID: c.String()})
	}
	return removed
}

// Close flushes and closes the underlying WAL file. Implementations must
// flush on drop.
func (s *PersistentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
