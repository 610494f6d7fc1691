// Package joinlink derives opaque, shareable room tokens.
//
// A link is hex(nonce || AES-256-GCM(roomID)), keyed by HKDF-SHA256 over
// the server secret with the room password as salt. Links are random per
// room creation, so two rooms never share one even when their ids match.
package joinlink

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const info = "confera join link v1"

// Codec encodes room ids into join links. Links are resolved through the
// registry's index; the server never needs to open one.
type Codec struct {
	secret          []byte
	defaultPassword string
}

// New returns a codec. defaultPassword keys links of rooms created
// without a password.
func New(secret, defaultPassword string) *Codec {
	return &Codec{secret: []byte(secret), defaultPassword: defaultPassword}
}

func (c *Codec) aead(password string) (cipher.AEAD, error) {
	if password == "" {
		password = c.defaultPassword
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, []byte(password), []byte(info)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encode returns a fresh link for roomID.
func (c *Codec) Encode(roomID, password string) (string, error) {
	aead, err := c.aead(password)
	if err != nil {
		return "", fmt.Errorf("join link key: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(roomID), nil)
	return hex.EncodeToString(sealed), nil
}
