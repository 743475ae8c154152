package security

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Keyring derives versioned keys from a single master secret. Every version
// up to Current stays derivable so records written under an older key can
// still be opened after rotation.
type Keyring struct {
	master  []byte
	current int
}

func NewKeyring(master []byte, currentVersion int) (*Keyring, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}
	if currentVersion < 1 {
		return nil, fmt.Errorf("key version must be >= 1, got %d", currentVersion)
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &Keyring{master: m, current: currentVersion}, nil
}

func (k *Keyring) Current() int {
	return k.current
}

func (k *Keyring) encryptionKey(version int) ([]byte, error) {
	if version < 1 || version > k.current {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	return k.derive(fmt.Sprintf("securebus/encryption/v%d", version), chacha20poly1305.KeySize)
}

func (k *Keyring) hmacKey() ([]byte, error) {
	return k.derive("securebus/signing/hmac", 32)
}

func (k *Keyring) ed25519Key() (ed25519.PrivateKey, error) {
	seed, err := k.derive("securebus/signing/ed25519", ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (k *Keyring) maskSalt() ([]byte, error) {
	return k.derive("securebus/masking", 16)
}

func (k *Keyring) derive(info string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master, nil, []byte(info))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key %q: %w", info, err)
	}
	return key, nil
}
