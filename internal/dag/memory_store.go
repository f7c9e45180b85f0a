package dag

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/identity"
)

// MemoryStore is the synchronous, in-memory DAG store: a single shared
// resource with interior mutability. Concurrent Put/Get are safe via a
// single RWMutex guarding a coarse-lock-around-map.
//
// CID embeds a []byte digest and so is not itself a valid Go map key; the
// store indexes on the canonical string form instead and keeps the
// original CID alongside each block for List/error reporting.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   map[string]*DagBlock
	metadata map[string]BlockMetadata
	log      *log.Entry
}

// NewMemoryStore constructs an empty in-memory DAG store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[string]*DagBlock),
		metadata: make(map[string]BlockMetadata),
		log:      log.WithField("component", "dag"),
	}
}

func (s *MemoryStore) Put(b *DagBlock) error {
	if err := validateForPut(b, s.containsLocked); err != nil {
		return err
	}
	key := b.CID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blocks[key]; exists {
		return nil // idempotent
	}
	s.blocks[key] = b
	s.metadata[key] = BlockMetadata{Pinned: false, TTL: nil}
	s.log.Debugf("put %s (%d bytes, %d links)", b.CID, len(b.Data), len(b.Links))
	return nil
}

func (s *MemoryStore) containsLocked(c CID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[c.String()]
	return ok
}

func (s *MemoryStore) Get(c CID) (*DagBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[c.String()]
	if !ok {
		return nil, &NotFoundError{CID: c}
	}
	return b, nil
}

func (s *MemoryStore) Contains(c CID) bool { return s.containsLocked(c) }

func (s *MemoryStore) Delete(c CID) error {
	key := c.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, key)
	delete(s.metadata, key)
	return nil
}

func (s *MemoryStore) List() []CID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CID, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.CID)
	}
	return out
}

func (s *MemoryStore) Pin(c CID) error   { return s.updateMeta(c, func(m *BlockMetadata) { m.Pinned = true }) }
func (s *MemoryStore) Unpin(c CID) error { return s.updateMeta(c, func(m *BlockMetadata) { m.Pinned = false }) }

func (s *MemoryStore) SetTTL(c CID, ttl time.Time) error {
	return s.updateMeta(c, func(m *BlockMetadata) { m.TTL = &ttl })
}

func (s *MemoryStore) updateMeta(c CID, mutate func(*BlockMetadata)) error {
	key := c.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[key]; !ok {
		return &NotFoundError{CID: c}
	}
	m := s.metadata[key]
	mutate(&m)
	s.metadata[key] = m
	return nil
}

func (s *MemoryStore) GetMetadata(c CID) (BlockMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metadata[c.String()]
	if !ok {
		return BlockMetadata{}, &NotFoundError{CID: c}
	}
	return m, nil
}

func (s *MemoryStore) PruneExpired(now time.Time) []CID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []CID
	for key, m := range s.metadata {
		if m.Expired(now) {
			removed = append(removed, s.blocks[key].CID)
			delete(s.blocks, key)
			delete(s.metadata, key)
		}
	}
	if len(removed) > 0 {
		s.log.Debugf("pruned %d expired blocks", len(removed))
	}
	return removed
}

// validateForPut runs the shared ingest checks common to every Store
// implementation: CID recomputation, signature verification, and parent
// presence.
func validateForPut(b *DagBlock, contains func(CID) bool) error {
	want, err := MerkleCID(b)
	if err != nil {
		return err
	}
	if want.String() != b.CID.String() {
		return &IntegrityError{Where: "cid mismatch"}
	}
	if len(b.Signature) > 0 {
		pub, err := identity.PublicKeyFromDID(b.Author)
		if err != nil {
			return &IntegrityError{Where: "author DID not verifiable: " + err.Error()}
		}
		signable, err := SignableBytes(b)
		if err != nil {
			return err
		}
		if !identity.Verify(pub, signable, b.Signature) {
			return &IntegrityError{Where: "signature verification failed"}
		}
	}
	for _, l := range b.Links {
		if !contains(l.CID) {
			return &MissingParentError{CID: l.CID}
		}
	}
	return nil
}
