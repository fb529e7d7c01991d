// Package ratchet implements the private, forward-secret state machine
// (spec §4.C): the pair (S_t, secret_t) that only the server ever holds,
// advanced one tick at a time and never reversible.
//
// Both EncryptForWindow's simulation and VerifyAndRelease's commit share the
// same stepping function (Project) so the two paths can never drift apart.
package ratchet

import (
	"encoding/binary"

	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/primitives"
)

// State is the private ratchet pair at some tick.
type State struct {
	S      [32]byte
	Secret [32]byte
}

// Step advances State from t to t+1, given X_t from the public chain.
//
//	S_{t+1}      = MAC(key=S_t, "EVOLVE" || X_t || secret_t || be64(t))
//	secret_{t+1} = HKDF(secret_t, salt="ratchet", info="server_secret_ratchet")
func Step(cur State, xT [32]byte, t domaintypes.Tick) (State, error) {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(t))

	nextS := primitives.MAC(cur.S[:], []byte("EVOLVE"), xT[:], cur.Secret[:], tb[:])

	nextSecret, err := primitives.HKDF(cur.Secret[:], 32, []byte("ratchet"), []byte("server_secret_ratchet"))
	if err != nil {
		return State{}, err
	}

	var out State
	out.S = nextS
	copy(out.Secret[:], nextSecret)
	return out, nil
}

// Project advances a copy of start from fromT to toT, using xAt(t) to fetch
// X_t for each intermediate step. It mutates nothing the caller passed in;
// both the encrypt-time simulation and the commit-time advance call this
// with the same step count and reach bit-identical states from the same
// (start, fromT) — the only difference is whether the caller keeps the
// result.
func Project(start State, fromT, toT domaintypes.Tick, xAt func(domaintypes.Tick) [32]byte) (State, error) {
	cur := start
	for t := fromT; t < toT; t++ {
		next, err := Step(cur, xAt(t), t)
		if err != nil {
			return State{}, err
		}
		cur = next
	}
	return cur, nil
}

// ReleaseValue derives the private release half of a window key from the
// state at the window's closing tick: MAC(key=S_t, "RELEASE").
func ReleaseValue(s State) [32]byte {
	return primitives.MAC(s.S[:], []byte("RELEASE"))
}

// Wipe zeroes both halves of a State in place.
func (s *State) Wipe() {
	primitives.Wipe(s.S[:])
	primitives.Wipe(s.Secret[:])
}
