// Package security protects helpdesk credentials at rest and guards the
// outbound connections made with them.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnseal is returned when a sealed value was tampered with or was sealed
// under a different key.
var ErrUnseal = errors.New("security: cannot open sealed value")

// Sealer encrypts small secrets with NaCl secretbox. Sealed output is the
// 24 byte nonce followed by the box.
type Sealer struct {
	key  [keySize]byte
	rand io.Reader
}

// NewSealer builds a Sealer from a 64 character hex key.
func NewSealer(hexKey string) (*Sealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("security: credentials key is not hex: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("security: credentials key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{rand: rand.Reader}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("security: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return out, nil
}
