package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// EncryptionAlgorithm names an AEAD used to seal payloads
type EncryptionAlgorithm string

const (
	EncryptionNone             EncryptionAlgorithm = "none"
	EncryptionAES256GCM        EncryptionAlgorithm = "aes-256-gcm"
	EncryptionChaCha20Poly1305 EncryptionAlgorithm = "chacha20-poly1305"
)

// ParseEncryption maps a config value to an EncryptionAlgorithm
func ParseEncryption(s string) EncryptionAlgorithm {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return EncryptionNone
	}
	return EncryptionAlgorithm(s)
}

// Encryptor seals serialized events. Output data is nonce || ciphertext.
type Encryptor struct {
	algorithm EncryptionAlgorithm
	aead      cipher.AEAD
}

// NewEncryptor derives a 256-bit key from key with SHA-256
func NewEncryptor(algorithm EncryptionAlgorithm, key string) (*Encryptor, error) {
	e := &Encryptor{algorithm: algorithm}
	if algorithm == EncryptionNone {
		return e, nil
	}
	if key == "" {
		return nil, ErrMissingKey
	}
	sum := sha256.Sum256([]byte(key))

	switch algorithm {
	case EncryptionAES256GCM:
		block, err := aes.NewCipher(sum[:])
		if err != nil {
			return nil, fmt.Errorf("create aes cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create gcm: %w", err)
		}
		e.aead = aead
	case EncryptionChaCha20Poly1305:
		aead, err := chacha20poly1305.New(sum[:])
		if err != nil {
			return nil, fmt.Errorf("create chacha20-poly1305: %w", err)
		}
		e.aead = aead
	default:
		return nil, notImplemented("encryption algorithm " + string(algorithm))
	}
	return e, nil
}

func (e *Encryptor) Algorithm() EncryptionAlgorithm { return e.algorithm }

// Encrypt returns event unchanged for the none algorithm
func (e *Encryptor) Encrypt(event *delivery.SerializedEvent) (*delivery.SerializedEvent, error) {
	if e.aead == nil {
		return event, nil
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(event.Data)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := *event
	out.Data = e.aead.Seal(nonce, nonce, event.Data, nil)
	out.Encryption = string(e.algorithm)
	return &out, nil
}

// Decrypt opens data produced by Encrypt
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	if e.aead == nil {
		return data, nil
	}
	ns := e.aead.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	return e.aead.Open(nil, data[:ns], data[ns:], nil)
}
