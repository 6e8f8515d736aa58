package drop

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateLengthAndAlphabet(t *testing.T) {
	g := NewGenerator()

	id, err := g.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 22 {
		t.Errorf("expected 22 characters for 128 bits, got %d (%q)", len(id), id)
	}

	const urlSafe = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	for _, c := range id {
		if !strings.ContainsRune(urlSafe, c) {
			t.Errorf("id contains non URL-safe character %q", c)
		}
	}
}

func TestGenerateUnique(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source failed")
}

func TestGenerateBrokenSource(t *testing.T) {
	g := NewGeneratorWithSource(brokenReader{})
	if _, err := g.Generate(); err == nil {
		t.Fatal("expected error from broken entropy source")
	}
}

func TestTokenDigestMatch(t *testing.T) {
	digest := DigestToken("secret-token")

	if !TokenMatches("secret-token", digest) {
		t.Error("matching token rejected")
	}
	if TokenMatches("wrong-token", digest) {
		t.Error("wrong token accepted")
	}
	if TokenMatches("", digest) {
		t.Error("empty token accepted")
	}
}
