// Package engine ties together primitives, chain and ratchet into the
// Protocol Engine: the one type that is allowed to read or advance the
// server's private state. See Engine for the two operations callers use
// (EncryptForWindow, VerifyAndRelease) and Error/Kind for how failures are
// classified.
package engine
