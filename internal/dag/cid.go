// Package dag implements the ICN content-addressed DAG: a put/get store
// of immutable blocks keyed by Merkle CID, with pin/TTL metadata and
// policy-free garbage collection.
package dag

import (
	"encoding/hex"
	"fmt"
	"strings"

	mh "github.com/multiformats/go-multihash"
)

// Codec identifies the content encoding a CID's digest was computed over.
type Codec byte

const (
	CodecRaw    Codec = 0x55
	CodecDagCBR Codec = 0x71 // dag-cbor
)

// MultihashCode identifies the hash function used for a CID's digest.
type MultihashCode byte

const (
	MHSha256 MultihashCode = 0x12
	MHSha512 MultihashCode = 0x13
)

// CID is a content identifier: (codec, multihash). For any bytes b, Compute
// is deterministic and collision-resistant.
type CID struct {
	Codec  Codec
	MHCode MultihashCode
	Digest []byte
}

// Compute derives a CID for data under the given codec, using sha-256 (the
// default multihash for this implementation; see ComputeSha512 for the
// larger digest). The digest is produced through the multihash codec's
// mh.Sum(data, mh.SHA2_256, -1) and unwrapped back to its raw bytes, so
// the stored CID.Digest matches the bare-digest wire form used elsewhere
// rather than the multihash-framed one.
func Compute(codec Codec, data []byte) CID {
	return CID{Codec: codec, MHCode: MHSha256, Digest: sumDigest(data, mh.SHA2_256)}
}

// ComputeSha512 derives a CID using the sha-512 multihash. No code in this
// module calls it; every stored block and job CID comes from Compute.
func ComputeSha512(codec Codec, data []byte) CID {
	return CID{Codec: codec, MHCode: MHSha512, Digest: sumDigest(data, mh.SHA2_512)}
}

// sumDigest multihash-sums data and strips the multihash's varint code/length
// prefix, leaving the raw digest bytes CID stores and hex-encodes.
func sumDigest(data []byte, code uint64) []byte {
	sum, err := mh.Sum(data, code, -1)
	if err != nil {
		// Only non-cryptographic misuse (unknown code/length) reaches here;
		// SHA2_256/SHA2_512 with length -1 never fail in practice.
		panic(fmt.Sprintf("dag: multihash sum: %v", err))
	}
	decoded, err := mh.Decode(sum)
	if err != nil {
		panic(fmt.Sprintf("dag: multihash decode: %v", err))
	}
	return decoded.Digest
}

// String renders the canonical wire form: cidv1-<codec:hex>-<mh-code:hex>-<digest:hex>.
func (c CID) String() string {
	return fmt.Sprintf("cidv1-%02x-%02x-%s", byte(c.Codec), byte(c.MHCode), hex.EncodeToString(c.Digest))
}

// IsZero reports whether c is the zero-value CID (no digest).
func (c CID) IsZero() bool { return len(c.Digest) == 0 }

// ParseCID parses the canonical wire form produced by String.
func ParseCID(s string) (CID, error) {
	parts := strings.SplitN(s, "-", 4)
	if len(parts) != 4 || parts[0] != "cidv1" {
		return CID{}, fmt.Errorf("dag: malformed cid %q", s)
	}
	var codec, mh uint64
	if _, err := fmt.Sscanf(parts[1], "%02x", &codec); err != nil {
		return CID{}, fmt.Errorf("dag: malformed cid codec %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[2], "%02x", &mh); err != nil {
		return CID{}, fmt.Errorf("dag: malformed cid mh-code %q: %w", s, err)
	}
	digest, err := hex.DecodeString(parts[3])
	if err != nil {
		return CID{}, fmt.Errorf("dag: malformed cid digest %q: %w", s, err)
	}
	return CID{Codec: Codec(codec), MHCode: MultihashCode(mh), Digest: digest}, nil
}
