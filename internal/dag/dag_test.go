package dag

import (
	"path/filepath"
	"testing"
	"time"

	"icn-mesh/internal/identity"
)

func mustSigner(t *testing.T) identity.Signer {
	t.Helper()
	s, err := identity.NewMemorySigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	b, err := NewBlock(signer, []byte("hello"), nil, "")
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	if err := store.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(b.CID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("data mismatch: %s", got.Data)
	}
}

func TestPutIdempotent(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	b, _ := NewBlock(signer, []byte("x"), nil, "")
	if err := store.Put(b); err != nil {
		t.Fatalf("put1: %v", err)
	}
	if err := store.Put(b); err != nil {
		t.Fatalf("put2 (idempotent) should succeed: %v", err)
	}
	if len(store.List()) != 1 {
		t.Fatalf("expected exactly one stored block, got %d", len(store.List()))
	}
}

func TestPutRejectsCIDMismatch(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	b, _ := NewBlock(signer, []byte("x"), nil, "")
	b.Data = []byte("tampered")
	if err := store.Put(b); err == nil {
		t.Fatalf("expected IntegrityError for cid mismatch")
	}
}

func TestPutRejectsBadSignature(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	b, _ := NewBlock(signer, []byte("x"), nil, "")
	b.Signature[0] ^= 0xFF
	// recompute CID over the tampered signature so only the signature check fires
	cid, err := MerkleCID(b)
	if err != nil {
		t.Fatalf("recompute cid: %v", err)
	}
	b.CID = cid
	if err := store.Put(b); err == nil {
		t.Fatalf("expected IntegrityError for bad signature")
	}
}

func TestPutRejectsMissingParent(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	missing := Compute(CodecRaw, []byte("ghost"))
	b, _ := NewBlock(signer, []byte("child"), []DagLink{{CID: missing}}, "")
	err := store.Put(b)
	if err == nil {
		t.Fatalf("expected MissingParentError")
	}
	if _, ok := err.(*MissingParentError); !ok {
		t.Fatalf("expected *MissingParentError, got %T", err)
	}
}

func TestParentBeforeChildSucceeds(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	parent, _ := NewBlock(signer, []byte("parent"), nil, "")
	if err := store.Put(parent); err != nil {
		t.Fatalf("put parent: %v", err)
	}
	child, _ := NewBlock(signer, []byte("child"), []DagLink{{CID: parent.CID}}, "")
	if err := store.Put(child); err != nil {
		t.Fatalf("put child: %v", err)
	}
}

func TestPruneExpiredRespectsPinned(t *testing.T) {
	store := NewMemoryStore()
	signer := mustSigner(t)
	b, _ := NewBlock(signer, []byte("x"), nil, "")
	store.Put(b)
	past := time.Now().Add(-time.Hour)
	store.SetTTL(b.CID, past)
	store.Pin(b.CID)

	removed := store.PruneExpired(time.Now())
	if len(removed) != 0 {
		t.Fatalf("pinned block should not be pruned")
	}

	store.Unpin(b.CID)
	removed = store.PruneExpired(time.Now())
	if len(removed) != 1 || removed[0].String() != b.CID.String() {
		t.Fatalf("expected unpinned expired block to be pruned, got %v", removed)
	}
	if store.Contains(b.CID) {
		t.Fatalf("expected block removed from store")
	}
}

func TestPersistentStoreReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dag.wal")
	signer := mustSigner(t)

	s1, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, _ := NewBlock(signer, []byte("durable"), nil, "")
	if err := s1.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s1.Pin(b.CID); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenPersistentStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(b.CID)
	if err != nil {
		t.Fatalf("get after replay: %v", err)
	}
	if string(got.Data) != "durable" {
		t.Fatalf("data mismatch after replay: %s", got.Data)
	}
	meta, err := s2.GetMetadata(b.CID)
	if err != nil {
		t.Fatalf("metadata after replay: %v", err)
	}
	if !meta.Pinned {
		t.Fatalf("expected pin to survive replay")
	}
}
