package engine_test

import (
	"context"
	"testing"

	"github.com/tempora-project/tempora/internal/chain"
	domaininterfaces "github.com/tempora-project/tempora/internal/domain/interfaces"
	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/engine"
)

var _ domaininterfaces.SnapshotStore = (*inMemoryStore)(nil)

// inMemoryStore is a minimal SnapshotStore used only by this package's
// tests, standing in for the file/Postgres backends.
type inMemoryStore struct {
	snap  domaintypes.Snapshot
	saved bool
}

func newMemStore() *inMemoryStore {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Save(_ context.Context, snap domaintypes.Snapshot) error {
	s.snap = snap
	s.saved = true
	return nil
}

func (s *inMemoryStore) Load(_ context.Context) (domaintypes.Snapshot, bool, error) {
	if !s.saved {
		return domaintypes.Snapshot{}, false, nil
	}
	return s.snap, true, nil
}

func windowFor(start, end domaintypes.Tick) domaintypes.Window {
	return domaintypes.Window{Start: start, End: end}
}

func recomputeChecksum(t *testing.T, bundle domaintypes.CiphertextBundle) [32]byte {
	t.Helper()
	c := chain.New(domaintypes.PublicParams{Seed: bundle.PublicSeed, Salt: bundle.PublicSalt})
	sum, err := c.WindowChecksum(domaintypes.Window{Start: bundle.Start, End: bundle.End})
	if err != nil {
		t.Fatalf("WindowChecksum: %v", err)
	}
	return sum
}

func windowChecksumFromEngine(t *testing.T, e *engine.Engine, window domaintypes.Window) [32]byte {
	t.Helper()
	bundle, err := e.EncryptForWindow(context.Background(), []byte("probe"), window)
	if err != nil {
		t.Fatalf("EncryptForWindow (probe): %v", err)
	}
	return recomputeChecksum(t, bundle)
}

func deriveFinal(t *testing.T, kPublic, kPrivate [32]byte) []byte {
	t.Helper()
	k, err := chain.FinalKey(kPublic, kPrivate)
	if err != nil {
		t.Fatalf("FinalKey: %v", err)
	}
	return k
}
