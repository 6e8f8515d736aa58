package drop

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// tokenBytes gives 128 bits of entropy, encoded to 22 URL-safe
// characters. Enough that guessing or colliding with a live id is
// infeasible for any realistic drop population.
const tokenBytes = 16

// Generator produces drop identifiers from a cryptographically strong
// random source. The source is injectable so tests can force collisions
// or exhaustion.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithSource returns a Generator reading entropy from r.
func NewGeneratorWithSource(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a fresh identifier. Uniqueness against live ids is
// not checked here; the metadata store's insert enforces it and the
// engine retries on conflict.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DigestToken returns the hex SHA-256 digest of an owner token, the
// form in which tokens are persisted.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a presented owner token against a stored digest
// in constant time.
func TokenMatches(token, digest string) bool {
	want := DigestToken(token)
	return subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1
}
