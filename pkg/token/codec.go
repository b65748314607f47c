// Package token seals and opens the download capability sent to buyers
// after settlement. Tokens are opaque to clients: any tampering or key
// mismatch surfaces as ErrInvalidToken.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken is returned for any token that cannot be opened, without
// distinguishing malformed input from tampering.
var ErrInvalidToken = errors.New("invalid download token")

// Payload is the sealed content of a download token.
type Payload struct {
	TransactionReference string `json:"transaction_reference"`
	StoryReference       string `json:"story_reference"`
}

// Codec seals and opens download tokens with XChaCha20-Poly1305, deriving
// the key from the configured secret.
type Codec struct {
	key []byte
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	return &Codec{key: key[:]}, nil
}

// Encode seals the payload into a URL-safe token string.
func (c *Codec) Encode(payload Payload) (string, error) {
	if payload.TransactionReference == "" || payload.StoryReference == "" {
		return "", fmt.Errorf("token payload references are required")
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling token payload: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("building cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token produced by Encode. Every failure mode collapses to
// ErrInvalidToken so callers cannot leak oracle details to clients.
func (c *Codec) Decode(tokenString string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	if len(raw) < aead.NonceSize() {
		return Payload{}, ErrInvalidToken
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, ErrInvalidToken
	}
	if payload.TransactionReference == "" || payload.StoryReference == "" {
		return Payload{}, ErrInvalidToken
	}
	return payload, nil
}
