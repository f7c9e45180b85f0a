// Package identity implements ICN identity and signing: DID modelling,
// keypair ownership and byte signing/verification.
//
// Ed25519 is the required algorithm. DIDs using the `key` method encode the
// public key directly so that verify(pk, msg, sig) implies signer == DID(pk).
package identity

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// DID is a decentralized identifier string, e.g.
// "did:key:z<base58btc(multicodec-prefixed pubkey)>".
type DID string

// Method returns the DID method segment ("key", "web", ...).
func (d DID) Method() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func (d DID) String() string { return string(d) }

// SignatureError reports a malformed key or signature input. Verify never
// returns this error: malformed verify inputs simply yield false.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string { return fmt.Sprintf("signature error: %s", e.Reason) }

// Signer is the capability abstraction the identity subsystem exposes.
// Implementations are selected at RuntimeContext construction (see
// internal/runtime); production builders must refuse MemorySigner.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Verify(pub, msg, sig []byte) bool
	DID() DID
	PublicKey() []byte
}

// ed25519Multicodec is the multicodec varint prefix for an ed25519 public
// key, as embedded in `key`-method DIDs.
var ed25519Multicodec = []byte{0xED, 0x01}

// NewDIDFromPublicKey derives the `key`-method DID for a raw ed25519 public
// key: the multicodec-prefixed key bytes, base58btc-encoded under the `z`
// multibase prefix.
func NewDIDFromPublicKey(pub ed25519.PublicKey) DID {
	prefixed := append(append([]byte(nil), ed25519Multicodec...), pub...)
	return DID("did:key:z" + base58.Encode(prefixed))
}

// PublicKeyFromDID recovers the raw ed25519 public key embedded in a
// `key`-method DID. It returns an error if the DID is not well formed.
func PublicKeyFromDID(d DID) (ed25519.PublicKey, error) {
	s := string(d)
	const prefix = "did:key:z"
	if !strings.HasPrefix(s, prefix) {
		return nil, &SignatureError{Reason: "unsupported DID method"}
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, prefix))
	if err != nil {
		return nil, &SignatureError{Reason: "malformed DID encoding"}
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize || !bytes.HasPrefix(raw, ed25519Multicodec) {
		return nil, &SignatureError{Reason: "not an ed25519 key DID"}
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// Verify checks sig over msg against the raw public key pub. It never
// panics: malformed inputs (wrong-length keys or signatures) return false.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() {
		// ed25519.Verify does not panic on well-formed-length inputs, but we
		// guard defensively since Verify is a trust boundary for untrusted
		// network bytes.
		_ = recover()
	}()
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// MemorySigner is an in-memory ed25519 signer. It is permitted in tests
// only; see internal/runtime for the stub-refusal enforced at production
// construction.
type MemorySigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	did  DID
}

// NewMemorySigner generates a fresh random ed25519 keypair.
func NewMemorySigner() (*MemorySigner, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &MemorySigner{priv: priv, pub: pub, did: NewDIDFromPublicKey(pub)}, nil
}

// NewMemorySignerFromSeed deterministically derives a keypair from a 32-byte
// seed; useful for reproducible tests and fixtures.
func NewMemorySignerFromSeed(seed []byte) (*MemorySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, &SignatureError{Reason: "seed must be 32 bytes"}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &MemorySigner{priv: priv, pub: pub, did: NewDIDFromPublicKey(pub)}, nil
}

func (s *MemorySigner) Sign(msg []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, &SignatureError{Reason: "signer has no private key"}
	}
	return ed25519.Sign(s.priv, msg), nil
}

func (s *MemorySigner) Verify(pub, msg, sig []byte) bool { return Verify(pub, msg, sig) }
func (s *MemorySigner) DID() DID                         { return s.did }
func (s *MemorySigner) PublicKey() []byte                { return append([]byte(nil), s.pub...) }
