package identity

import (
	"bytes"
	"testing"
)

func TestMemorySignerRoundTrip(t *testing.T) {
	signer, err := NewMemorySigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	msg := []byte("hello mesh")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(signer.PublicKey(), msg, sig) {
		t.Fatalf("verify failed for matching key/msg/sig")
	}
	if Verify(signer.PublicKey(), []byte("tampered"), sig) {
		t.Fatalf("verify succeeded for tampered message")
	}
}

func TestVerifyNeverPanicsOnMalformedInput(t *testing.T) {
	cases := [][]byte{nil, {}, {0x01}, bytes.Repeat([]byte{0xAA}, 5)}
	for _, bad := range cases {
		if Verify(bad, []byte("m"), bad) {
			t.Fatalf("expected false for malformed input %x", bad)
		}
	}
}

func TestDIDDerivationMatchesPublicKey(t *testing.T) {
	signer, err := NewMemorySigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	pub, err := PublicKeyFromDID(signer.DID())
	if err != nil {
		t.Fatalf("recover pubkey: %v", err)
	}
	if !bytes.Equal(pub, signer.PublicKey()) {
		t.Fatalf("recovered pubkey mismatch")
	}
}

func TestPublicKeyFromDIDRejectsMalformed(t *testing.T) {
	if _, err := PublicKeyFromDID(DID("did:web:example.com")); err == nil {
		t.Fatalf("expected error for unsupported method")
	}
	if _, err := PublicKeyFromDID(DID("did:key:z!!!not-base58!!!")); err == nil {
		t.Fatalf("expected error for malformed encoding")
	}
}

func TestDeterministicSignerFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, 32)
	a, err := NewMemorySignerFromSeed(seed)
	if err != nil {
		t.Fatalf("signer a: %v", err)
	}
	b, err := NewMemorySignerFromSeed(seed)
	if err != nil {
		t.Fatalf("signer b: %v", err)
	}
	if a.DID() != b.DID() {
		t.Fatalf("expected deterministic DID from identical seed")
	}
}
