package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

var (
	ErrNoSealKey  = errors.New("auth: no seal key configured")
	ErrUnsealFail = errors.New("auth: cannot open sealed value")
	ErrBadSealKey = errors.New("auth: seal key must be 32 bytes, hex encoded")
)

// Sealer encrypts credential material at rest with NaCl secretbox.
type Sealer struct {
	key [32]byte
}

// NewSealer parses a hex encoded 32-byte key.
func NewSealer(hexKey string) (*Sealer, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrNoSealKey
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrBadSealKey
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey returns a fresh hex encoded key suitable for NewSealer.
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}

// Seal encrypts plaintext. A nil Sealer returns plaintext unchanged, which
// is only acceptable for the dryrun platform.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("auth: nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		if s == nil {
			return sealed, nil
		}
		return "", ErrUnsealFail
	}
	if s == nil {
		return "", ErrNoSealKey
	}

	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil || len(box) < 24+secretbox.Overhead {
		return "", ErrUnsealFail
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrUnsealFail
	}
	return string(plain), nil
}
