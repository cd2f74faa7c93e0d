package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

// Hasher derives password credentials with PBKDF2-HMAC.
type Hasher struct {
	hash       func() hash.Hash
	iterations int
	keyLength  int
}

// NewHasher returns a Hasher for the named digest ("sha1", "sha256" or "sha512").
// keyLength is in bytes.
func NewHasher(digest string, iterations, keyLength int) (Hasher, error) {
	var h func() hash.Hash
	switch digest {
	case "sha1":
		h = sha1.New
	case "sha256":
		h = sha256.New
	case "sha512":
		h = sha512.New
	default:
		return Hasher{}, fmt.Errorf("unsupported password digest %q", digest)
	}
	if iterations < 1 || keyLength < 1 {
		return Hasher{}, fmt.Errorf("invalid pbkdf2 parameters: %d iterations, %d byte key", iterations, keyLength)
	}
	return Hasher{hash: h, iterations: iterations, keyLength: keyLength}, nil
}

// Derive returns the hex encoded key for password and salt.
func (h Hasher) Derive(password, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), h.iterations, h.keyLength, h.hash))
}

// Verify re-derives the key and compares it in constant time.
func (h Hasher) Verify(password, salt, expected string) bool {
	derived := h.Derive(password, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(expected)) == 1
}

// RandomHex returns n random bytes, hex encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
