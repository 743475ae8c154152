// Package security composes the fixed primitive set the messaging core relies
// on: authenticated encryption, signing, message identifiers and field masking.
// Nothing here keeps per-message state or touches the network.
package security

import (
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	apperrors "securebus/pkg/errors"
)

const AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"

const maskPrefix = "masked:"

type Config struct {
	MasterKey        []byte
	KeyVersion       int
	SigningAlgorithm string
}

// Ciphertext is an encrypted payload together with what is needed to open it.
type Ciphertext struct {
	Data       string
	Algorithm  string
	KeyVersion int
}

type Provider struct {
	keys   *Keyring
	signer Signer
	salt   []byte
}

func NewProvider(cfg Config) (*Provider, error) {
	version := cfg.KeyVersion
	if version == 0 {
		version = 1
	}

	keys, err := NewKeyring(cfg.MasterKey, version)
	if err != nil {
		return nil, err
	}

	signer, err := newSigner(cfg.SigningAlgorithm, keys)
	if err != nil {
		return nil, err
	}

	salt, err := keys.maskSalt()
	if err != nil {
		return nil, err
	}

	return &Provider{keys: keys, signer: signer, salt: salt}, nil
}

func (p *Provider) SigningAlgorithm() string {
	return p.signer.Algorithm()
}

// Encrypt seals the JSON form of v under the current key version. The
// algorithm and key version are bound as associated data.
func (p *Provider) Encrypt(v interface{}) (Ciphertext, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Ciphertext{}, fmt.Errorf("failed to marshal payload for encryption: %w", err)
	}

	version := p.keys.Current()
	aead, err := p.aead(version)
	if err != nil {
		return Ciphertext{}, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return Ciphertext{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, associatedData(AlgorithmXChaCha20Poly1305, version))

	return Ciphertext{
		Data:       base64.StdEncoding.EncodeToString(sealed),
		Algorithm:  AlgorithmXChaCha20Poly1305,
		KeyVersion: version,
	}, nil
}

// Decrypt opens ct into out. Any tampering with the data, algorithm or key
// version yields an integrity error and leaves out untouched.
func (p *Provider) Decrypt(ct Ciphertext, out interface{}) error {
	if ct.Algorithm != "" && ct.Algorithm != AlgorithmXChaCha20Poly1305 {
		return apperrors.ErrIntegrity.WithMessage(fmt.Sprintf("unsupported algorithm %q", ct.Algorithm))
	}

	version := ct.KeyVersion
	if version == 0 {
		version = 1
	}

	aead, err := p.aead(version)
	if err != nil {
		return apperrors.ErrIntegrity.WithCause(err)
	}

	sealed, err := base64.StdEncoding.DecodeString(ct.Data)
	if err != nil {
		return apperrors.ErrIntegrity.WithCause(fmt.Errorf("ciphertext is not base64: %w", err))
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return apperrors.ErrIntegrity.WithMessage("ciphertext too short")
	}

	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, associatedData(AlgorithmXChaCha20Poly1305, version))
	if err != nil {
		return apperrors.ErrIntegrity.WithCause(err)
	}

	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return apperrors.ErrIntegrity.WithCause(fmt.Errorf("decrypted payload is not valid JSON: %w", err))
	}
	return nil
}

// Sign returns a base64 signature over the canonical JSON form of v.
func (p *Provider) Sign(v interface{}) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p.signer.Sign(data)), nil
}

func (p *Provider) Verify(v interface{}, signature string) bool {
	if signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	data, err := Canonicalize(v)
	if err != nil {
		return false
	}
	return p.signer.Verify(data, sig)
}

// NewMessageID returns a time-ordered UUIDv7, falling back to v4 if the
// clock source fails.
func (p *Provider) NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Mask returns a copy of record where the named fields (matched
// case-insensitively, at any depth) are replaced by a salted one-way digest.
// The result is meant for logs and stored subject data.
func (p *Provider) Mask(fields []string, record map[string]interface{}) map[string]interface{} {
	if record == nil {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return p.maskMap(set, record)
}

func (p *Provider) maskMap(set map[string]struct{}, in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if _, ok := set[strings.ToLower(k)]; ok {
			out[k] = p.digest(v)
			continue
		}
		out[k] = p.maskValue(set, v)
	}
	return out
}

func (p *Provider) maskValue(set map[string]struct{}, v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return p.maskMap(set, t)
	case []interface{}:
		items := make([]interface{}, len(t))
		for i, item := range t {
			items[i] = p.maskValue(set, item)
		}
		return items
	default:
		return v
	}
}

func (p *Provider) digest(v interface{}) string {
	mac := hmac.New(sha256.New, p.salt)
	_, _ = fmt.Fprintf(mac, "%v", v)
	return maskPrefix + hex.EncodeToString(mac.Sum(nil)[:12])
}

func (p *Provider) aead(version int) (cipher.AEAD, error) {
	key, err := p.keys.encryptionKey(version)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}

func associatedData(algorithm string, version int) []byte {
	return []byte(fmt.Sprintf("%s:v%d", algorithm, version))
}

// Canonicalize produces a byte-stable JSON encoding: object keys sorted at
// every depth and numbers preserved verbatim.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	return json.Marshal(generic)
}
