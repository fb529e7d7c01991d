// Package primitives exposes the minimal cryptographic building blocks used
// by the chain, ratchet and engine packages: hashing, keyed MAC, HKDF, and
// AEAD seal/open under AES-256-GCM. No state; every function is pure aside
// from the implicit RNG dependency of Seal and the nonce it samples.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

// NonceSize is the AES-256-GCM nonce length mandated by spec §6.
const NonceSize = 12

// TagSize is the AES-256-GCM authentication tag length, appended to the
// ciphertext by Seal and expected by Open.
const TagSize = 16

// ErrAuthenticationFailure is returned by Open when the AEAD tag does not
// verify — wrong key, or tampering.
var ErrAuthenticationFailure = errors.New("primitives: authentication failure")

// H returns the SHA-256 digest of data.
func H(data ...[]byte) [32]byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MAC returns HMAC-SHA-256(key, msg).
func MAC(key []byte, msg ...[]byte) [32]byte {
	m := hmac.New(sha256.New, key)
	for _, d := range msg {
		m.Write(d)
	}
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}

// HKDF runs HKDF-Extract then HKDF-Expand over SHA-256, returning length
// bytes of output key material.
func HKDF(ikm []byte, length int, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Seal encrypts plaintext under key using AES-256-GCM with a freshly sampled
// random 96-bit nonce, returning the nonce and the ciphertext (tag appended).
func Seal(key, plaintext []byte) (nonce [NonceSize]byte, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nonce, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nonce, nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts ciphertext under key and nonce, returning
// ErrAuthenticationFailure on tag mismatch.
func Open(key []byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return pt, nil
}

// ConstantTimeEqual compares a and b in constant time.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe zeroes the provided buffer in place. Best-effort: it reduces the
// lifetime of sensitive material in memory but is not a hard security
// boundary against a determined local attacker.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
