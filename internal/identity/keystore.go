package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32
)

// keystoreFile is the on-disk JSON envelope for an encrypted signer key.
type keystoreFile struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeystoreSigner loads its ed25519 seed from a passphrase-encrypted file:
// PBKDF2-HMAC-SHA256 (100k iterations, 16-byte salt) derives an AES-256-GCM
// key (12-byte nonce) that wraps the raw 32-byte seed. This is the
// production signer implementation, as opposed to the in-memory stand-in.
type KeystoreSigner struct {
	path string
	seed []byte // zeroized by Close
	*MemorySigner
}

// GenerateKeystore creates a new random ed25519 keypair, encrypts its seed
// under passphrase, and writes the envelope to path.
func GenerateKeystore(path, passphrase string) (*KeystoreSigner, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := crand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generate seed: %w", err)
	}
	if err := writeKeystore(path, passphrase, seed); err != nil {
		return nil, err
	}
	return OpenKeystore(path, passphrase)
}

// GenerateKeystoreWithMnemonic creates a new ed25519 keypair from fresh
// BIP-39 entropy, encrypts its seed under passphrase, and writes the
// envelope to path. It returns the signer plus the mnemonic phrase the
// operator must record and then discard; the ed25519 seed itself is the
// first 32 bytes of the BIP-39 seed (bip39.NewSeed with an empty mnemonic
// passphrase), via bip39.NewEntropy/NewMnemonic/NewSeed.
func GenerateKeystoreWithMnemonic(path, passphrase string, entropyBits int) (*KeystoreSigner, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("identity: unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("identity: bip39 entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("identity: bip39 mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")[:ed25519.SeedSize]
	if err := writeKeystore(path, passphrase, seed); err != nil {
		return nil, "", err
	}
	signer, err := OpenKeystore(path, passphrase)
	if err != nil {
		return nil, "", err
	}
	return signer, mnemonic, nil
}

// KeystoreFromMnemonic imports an existing BIP-39 phrase, deriving the
// ed25519 seed the same way GenerateKeystoreWithMnemonic does, and writes a
// fresh passphrase-encrypted keystore file for it at path.
func KeystoreFromMnemonic(path, passphrase, mnemonic, mnemonicPassphrase string) (*KeystoreSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("identity: invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, mnemonicPassphrase)[:ed25519.SeedSize]
	if err := writeKeystore(path, passphrase, seed); err != nil {
		return nil, err
	}
	return OpenKeystore(path, passphrase)
}

// OpenKeystore decrypts and loads an existing keystore file.
func OpenKeystore(path, passphrase string) (*KeystoreSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("identity: decode keystore: %w", err)
	}
	seed, err := decryptSeed(kf, passphrase)
	if err != nil {
		return nil, err
	}
	signer, err := NewMemorySignerFromSeed(seed)
	if err != nil {
		zero(seed)
		return nil, err
	}
	log.WithField("component", "identity").Infof("keystore loaded: %s", signer.DID())
	return &KeystoreSigner{path: path, seed: seed, MemorySigner: signer}, nil
}

// Rotate re-encrypts the keystore in place under the caller-supplied 32-byte
// seed and passphrase and switches this signer to the new key; it returns
// only an error. Not exercised by the
// core job lifecycle; kept as an identity operation for operator key
// management.
func (k *KeystoreSigner) Rotate(newSeed []byte, passphrase string) error {
	if len(newSeed) != ed25519.SeedSize {
		return &SignatureError{Reason: "seed must be 32 bytes"}
	}
	if err := writeKeystore(k.path, passphrase, newSeed); err != nil {
		return err
	}
	signer, err := NewMemorySignerFromSeed(newSeed)
	if err != nil {
		return err
	}
	zero(k.seed)
	k.seed = append([]byte(nil), newSeed...)
	k.MemorySigner = signer
	return nil
}

// Close zeroizes the in-memory seed. Safe to call multiple times.
func (k *KeystoreSigner) Close() error {
	zero(k.seed)
	return nil
}

func writeKeystore(path, passphrase string, seed []byte) error {
	salt := make([]byte, saltSize)
	if _, err := crand.Read(salt); err != nil {
		return fmt.Errorf("identity: generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return fmt.Errorf("identity: generate nonce: %w", err)
	}
	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("identity: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("identity: gcm: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, seed, nil)
	kf := keystoreFile{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}
	raw, err := json.Marshal(kf)
	if err != nil {
		return fmt.Errorf("identity: encode keystore: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("identity: write keystore: %w", err)
	}
	return nil
}

func decryptSeed(kf keystoreFile, passphrase string) ([]byte, error) {
	key := deriveKey(passphrase, kf.Salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("identity: gcm: %w", err)
	}
	seed, err := gcm.Open(nil, kf.Nonce, kf.Ciphertext, nil)
	if err != nil {
		return nil, &SignatureError{Reason: "wrong passphrase or corrupted keystore"}
	}
	return seed, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
