// Package primitives exposes the minimal primitives used by Tempora.
//
// Contents
//
//   - SHA-256 hashing and HMAC-SHA-256 (H, MAC)
//   - HKDF-SHA-256 extract-then-expand (HKDF)
//   - AES-256-GCM seal/open with random nonces (Seal, Open)
//   - Constant-time comparison and best-effort memory wiping (ConstantTimeEqual, Wipe)
//
// # Notes
//
// AES-256-GCM is pinned by the wire format (spec §6), not chosen freely —
// callers must not substitute another AEAD. Wipe reduces, but does not
// eliminate, the lifetime of secret material in process memory.
package primitives
