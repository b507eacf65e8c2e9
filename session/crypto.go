package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoSecret is returned when a secret is derived before key exchange
	ErrNoSecret = errors.New("no master secret established")
)

// SecretLength of derived secrets
const SecretLength = 32

// Transcript is an append only accumulator of handshake bytes
type Transcript struct {
	raw []byte
}

func NewTranscript() *Transcript {
	return &Transcript{raw: make([]byte, 0)}
}

// Extend appends b
func (t *Transcript) Extend(b []byte) {
	t.raw = append(t.raw, b...)
}

// Len is the number of accumulated bytes
func (t *Transcript) Len() int {
	return len(t.raw)
}

// Digest is the SHA-256 hash of everything accumulated, nil while empty
func (t *Transcript) Digest() []byte {
	if len(t.raw) == 0 {
		return nil
	}
	sum := sha256.Sum256(t.raw)
	return sum[:]
}

// Bytes returns a copy of the accumulated bytes
func (t *Transcript) Bytes() []byte {
	return cloneBytes(t.raw)
}

// EstablishMasterSecret extracts the master secret from the premaster secret
// with both hello randoms as salt
func (c *Context) EstablishMasterSecret(premaster []byte) {
	salt := make([]byte, 0, len(c.handshake.ClientRandom)+len(c.handshake.ServerRandom))
	salt = append(salt, c.handshake.ClientRandom...)
	salt = append(salt, c.handshake.ServerRandom...)
	c.handshake.MasterSecret = hkdf.Extract(sha256.New, premaster, salt)
}

// DeriveSecret expands label and context with the master secret
func (c *Context) DeriveSecret(label string, context []byte) ([]byte, error) {
	if len(c.handshake.MasterSecret) == 0 {
		return nil, ErrNoSecret
	}
	return expandLabel(c.handshake.MasterSecret, label, context, SecretLength)
}

func expandLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(length))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 "))
		b.AddBytes([]byte(label))
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	info, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("building label %q: %w", label, err)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, secret, info), out); err != nil {
		return nil, fmt.Errorf("expanding label %q: %w", label, err)
	}
	return out, nil
}
