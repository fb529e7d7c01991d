package primitives_test

import (
	"bytes"
	"testing"

	"github.com/tempora-project/tempora/internal/primitives"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	nonce, ct, err := primitives.Seal(key, []byte("hello window"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := primitives.Open(key, nonce, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != "hello window" {
		t.Fatalf("got %q, want %q", pt, "hello window")
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 32)
	wrongKey := bytes.Repeat([]byte{0x33}, 32)
	nonce, ct, err := primitives.Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := primitives.Open(wrongKey, nonce, ct); err != primitives.ErrAuthenticationFailure {
		t.Fatalf("got %v, want ErrAuthenticationFailure", err)
	}
}

func TestOpen_TamperedCiphertextFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 32)
	nonce, ct, err := primitives.Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[0] ^= 0xFF
	if _, err := primitives.Open(key, nonce, ct); err != primitives.ErrAuthenticationFailure {
		t.Fatalf("got %v, want ErrAuthenticationFailure", err)
	}
}

func TestHKDF_Deterministic(t *testing.T) {
	ikm := []byte("input key material")
	a, err := primitives.HKDF(ikm, 32, []byte("salt"), []byte("info"))
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	b, err := primitives.HKDF(ikm, 32, []byte("salt"), []byte("info"))
	if err != nil {
		t.Fatalf("HKDF: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("HKDF output not deterministic for identical inputs")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	c := []byte{1, 2, 4}
	if !primitives.ConstantTimeEqual(a, b) {
		t.Fatal("expected equal")
	}
	if primitives.ConstantTimeEqual(a, c) {
		t.Fatal("expected unequal")
	}
	if primitives.ConstantTimeEqual(a, []byte{1, 2}) {
		t.Fatal("expected unequal for different lengths")
	}
}

func TestMAC_DomainSeparation(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	evolve := primitives.MAC(key, []byte("EVOLVE"), []byte("rest"))
	release := primitives.MAC(key, []byte("RELEASE"))
	if bytes.Equal(evolve[:], release[:]) {
		t.Fatal("EVOLVE and RELEASE tags collided")
	}
}
