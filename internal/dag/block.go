package dag

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"icn-mesh/internal/identity"
)

// DagLink references a parent block this block depends on.
type DagLink struct {
	CID CID
}

// DagBlock is an immutable, content-addressed node of the DAG.
//
// Invariants enforced at Put (never by the caller constructing the struct):
//   - CID == merkle_cid(fields)
//   - Signature, if present, verifies against Author's public key
//   - every Links[i].CID is already present in the store
type DagBlock struct {
	CID       CID
	Data      []byte
	Links     []DagLink
	Timestamp int64 // unix seconds, set by the submitter
	Author    identity.DID
	Signature []byte // optional
	Scope     string // optional ScopeTag
}

// rlpLinks is the deterministic, sorted RLP encoding of a block's links,
// used inside the canonical signable/CID bytes.
type rlpLinks struct {
	CIDs []string
}

// canonicalBytes builds the deterministic byte sequence the Merkle CID and
// (when present) the block signature are computed over:
//
//	codec || data || sorted_links_encoding || timestamp(LE u64) || author_did || signature_or_empty || scope_or_empty
func canonicalBytes(codec Codec, data []byte, links []DagLink, timestamp int64, author identity.DID, signature []byte, scope string) ([]byte, error) {
	sorted := make([]string, len(links))
	for i, l := range links {
		sorted[i] = l.CID.String()
	}
	sort.Strings(sorted)

	linkEnc, err := rlp.EncodeToBytes(rlpLinks{CIDs: sorted})
	if err != nil {
		return nil, fmt.Errorf("dag: encode links: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(codec))
	buf.Write(data)
	buf.Write(linkEnc)
	var tsLE [8]byte
	putUint64LE(tsLE[:], uint64(timestamp))
	buf.Write(tsLE[:])
	buf.WriteString(string(author))
	buf.Write(signature)
	buf.WriteString(scope)
	return buf.Bytes(), nil
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// MerkleCID computes the block's content identifier. It does not consult
// the signature field differently than any other byte range: the CID
// covers the signature exactly as stored (empty if absent).
func MerkleCID(b *DagBlock) (CID, error) {
	raw, err := canonicalBytes(CodecDagCBR, b.Data, b.Links, b.Timestamp, b.Author, b.Signature, b.Scope)
	if err != nil {
		return CID{}, err
	}
	return Compute(CodecDagCBR, raw), nil
}

// SignableBytes returns the canonical bytes a block's signature is computed
// over: identical to the CID's canonical bytes but with the signature field
// forced empty, so a block cannot sign itself into a different CID.
func SignableBytes(b *DagBlock) ([]byte, error) {
	return canonicalBytes(CodecDagCBR, b.Data, b.Links, b.Timestamp, b.Author, nil, b.Scope)
}

// NewBlock constructs, signs, and CID-stamps a block in one step. It is a
// convenience used by the job manager and tests; Store.Put independently
// re-verifies everything it returns.
func NewBlock(signer identity.Signer, data []byte, links []DagLink, scope string) (*DagBlock, error) {
	b := &DagBlock{
		Data:      data,
		Links:     links,
		Timestamp: time.Now().Unix(),
		Author:    signer.DID(),
		Scope:     scope,
	}
	signable, err := SignableBytes(b)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(signable)
	if err != nil {
		return nil, fmt.Errorf("dag: sign block: %w", err)
	}
	b.Signature = sig
	cid, err := MerkleCID(b)
	if err != nil {
		return nil, err
	}
	b.CID = cid
	return b, nil
}

// BlockMetadata carries GC-relevant state, separate from block content.
type BlockMetadata struct {
	Pinned bool
	TTL    *time.Time // nil means no TTL
}

// Expired reports whether the block is a GC candidate: unpinned and past TTL.
func (m BlockMetadata) Expired(now time.Time) bool {
	if m.Pinned || m.TTL == nil {
		return false
	}
	return !m.TTL.After(now)
}
