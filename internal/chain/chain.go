// Package chain implements the public, non-Markovian hash chain (spec §4.B)
// and the window checksum / final-key derivation built on top of it
// (spec §4.D). Nothing here is secret: every value a chain.Chain produces is
// safe to hand to an untrusted client ahead of time.
package chain

import (
	"encoding/binary"
	"fmt"

	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/primitives"
)

// Chain lazily extends and caches the public hash chain X_0, X_1, ... under
// a fixed seed/salt pair. It holds no secret material and is safe to share
// read-only with anything that already has the params.
type Chain struct {
	params domaintypes.PublicParams
	values [][32]byte // values[t] == X_t, values[0] == seed
}

// New returns a Chain rooted at params, with X_0 = params.Seed already cached.
func New(params domaintypes.PublicParams) *Chain {
	return &Chain{
		params: params,
		values: [][32]byte{params.Seed},
	}
}

// Params returns the public parameters the chain was built from.
func (c *Chain) Params() domaintypes.PublicParams {
	return c.params
}

// Len reports how many chain entries (X_0 .. X_{len-1}) have been
// materialized so far. It grows lazily as At extends the cache; it is not
// the highest tick the server has ever reasoned about unless something has
// already called At (or WindowChecksum) that far.
func (c *Chain) Len() int {
	return len(c.values)
}

// At returns X_t, extending the cached chain as needed. X_{-1} is defined as
// the all-zero block; t is unsigned so callers pass that in as a literal
// zero array when required (see step).
func (c *Chain) At(t domaintypes.Tick) [32]byte {
	c.extendTo(t)
	return c.values[t]
}

// extendTo grows the cache so that values[t] is populated.
func (c *Chain) extendTo(t domaintypes.Tick) {
	for domaintypes.Tick(len(c.values)-1) < t {
		next := domaintypes.Tick(len(c.values))
		prev := c.values[next-1]
		var prevPrev [32]byte
		if next >= 2 {
			prevPrev = c.values[next-2]
		}
		c.values = append(c.values, step(prev, prevPrev, next-1, c.params.Salt))
	}
}

// step computes X_{t+1} = H(X_t || X_{t-1} || salt || be64(t)), with X_{-1}
// taken to be the all-zero block. t here is the lower index in the formula,
// i.e. one less than the tick being produced.
func step(prev, prevPrev [32]byte, t domaintypes.Tick, salt [32]byte) [32]byte {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(t))
	return primitives.H(prev[:], prevPrev[:], salt[:], tb[:])
}

// WindowChecksum returns K_public for [start, end], the public value a
// recipient can compute entirely from the chain and hand back to the server
// to prove knowledge of the window it's unlocking.
//
// K_public = H(X_start || X_{start+1} || ... || X_end)
func (c *Chain) WindowChecksum(window domaintypes.Window) ([32]byte, error) {
	if window.Start > window.End {
		return [32]byte{}, fmt.Errorf("chain: window start %d after end %d", window.Start, window.End)
	}
	parts := make([][]byte, 0, window.End-window.Start+1)
	for t := window.Start; t <= window.End; t++ {
		x := c.At(t)
		parts = append(parts, x[:])
	}
	return primitives.H(parts...), nil
}

// FinalKey derives K_final from a window's public and private release
// halves (spec §4.D): HKDF-SHA-256(kPublic || kPrivate, salt="encryption",
// info="aes_gcm_key", length=32).
func FinalKey(kPublic, kPrivate [32]byte) ([]byte, error) {
	ikm := append(append([]byte{}, kPublic[:]...), kPrivate[:]...)
	return primitives.HKDF(ikm, 32, []byte("encryption"), []byte("aes_gcm_key"))
}
