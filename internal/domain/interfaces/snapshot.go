package interfaces

import (
	"context"

	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
)

// SnapshotStore persists and restores the server's private state (spec §4.F).
//
// Implementations must guarantee: (a) Save is serialized with respect to
// itself; (b) once Save returns successfully, a subsequent Load yields
// exactly those fields; (c) CurrentTick is non-decreasing across successive
// saves — a regression is a StateCorruption condition at the caller.
type SnapshotStore interface {
	Save(ctx context.Context, snap domaintypes.Snapshot) error
	Load(ctx context.Context) (domaintypes.Snapshot, bool, error)
}
