package security

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

const (
	SigningHMACSHA256 = "hmac-sha256"
	SigningEd25519    = "ed25519"
)

type Signer interface {
	Algorithm() string
	Sign(data []byte) []byte
	Verify(data, signature []byte) bool
}

type hmacSigner struct {
	key []byte
}

func (s *hmacSigner) Algorithm() string { return SigningHMACSHA256 }

func (s *hmacSigner) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write(data)
	return mac.Sum(nil)
}

func (s *hmacSigner) Verify(data, signature []byte) bool {
	return hmac.Equal(signature, s.Sign(data))
}

type ed25519Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

func (s *ed25519Signer) Algorithm() string { return SigningEd25519 }

func (s *ed25519Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.private, data)
}

func (s *ed25519Signer) Verify(data, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.public, data, signature)
}

func newSigner(algorithm string, keys *Keyring) (Signer, error) {
	switch algorithm {
	case "", SigningHMACSHA256:
		key, err := keys.hmacKey()
		if err != nil {
			return nil, err
		}
		return &hmacSigner{key: key}, nil
	case SigningEd25519:
		priv, err := keys.ed25519Key()
		if err != nil {
			return nil, err
		}
		return &ed25519Signer{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}
}
