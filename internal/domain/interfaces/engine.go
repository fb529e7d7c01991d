package interfaces

import (
	"context"

	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
)

// ReleasedKeys is what a successful VerifyAndRelease hands back to a
// recipient: the public checksum (recomputed server-side, for symmetry with
// what the recipient already derived) and the private release value.
type ReleasedKeys struct {
	KPublic  [32]byte
	KPrivate [32]byte
}

// Engine is the Protocol Engine surface (spec §4.E): encrypt-for-window
// never mutates persistent state; verify-and-release is the one-shot,
// state-advancing operation; Tick drives idle time forward.
type Engine interface {
	EncryptForWindow(
		ctx context.Context,
		plaintext []byte,
		window domaintypes.Window,
	) (domaintypes.CiphertextBundle, error)

	VerifyAndRelease(
		ctx context.Context,
		checksum [32]byte,
		window domaintypes.Window,
	) (ReleasedKeys, error)

	Tick(ctx context.Context) error

	// Refresh reloads state from the snapshot store if a newer tick has
	// been persisted elsewhere (e.g. by a separate cmd/tickerd process).
	Refresh(ctx context.Context) error

	// Reset discards all state and starts over at tick 0. Development/testing
	// only — callers must gate this behind an explicit opt-in.
	Reset(ctx context.Context) error

	Status() (currentTick domaintypes.Tick, publicHistoryLen int)
}
