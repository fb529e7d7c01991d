package engine_test

import (
	"context"
	"testing"

	"github.com/tempora-project/tempora/internal/engine"
	"github.com/tempora-project/tempora/internal/primitives"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	key := engine.DeriveMasterKey([]byte("test master key material"))
	store := newMemStore()
	e, err := engine.Bootstrap(context.Background(), store, key[:])
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return e
}

func TestEncryptForWindow_ThenVerifyAndRelease_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	window := windowFor(3, 8)
	bundle, err := e.EncryptForWindow(ctx, []byte("ephemeral payload"), window)
	if err != nil {
		t.Fatalf("EncryptForWindow: %v", err)
	}

	for i := 0; i < 8; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	checksum := recomputeChecksum(t, bundle)
	released, err := e.VerifyAndRelease(ctx, checksum, window)
	if err != nil {
		t.Fatalf("VerifyAndRelease: %v", err)
	}

	kFinal := deriveFinal(t, released.KPublic, released.KPrivate)
	pt, err := primitives.Open(kFinal, bundle.Nonce, bundle.Ciphertext)
	if err != nil {
		t.Fatalf("Open with released keys: %v", err)
	}
	if string(pt) != "ephemeral payload" {
		t.Fatalf("got %q", pt)
	}
}

func TestVerifyAndRelease_IsOneShot(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	window := windowFor(0, 2)

	for i := 0; i < 2; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	checksum := windowChecksumFromEngine(t, e, window)
	if _, err := e.VerifyAndRelease(ctx, checksum, window); err != nil {
		t.Fatalf("first VerifyAndRelease: %v", err)
	}

	if _, err := e.VerifyAndRelease(ctx, checksum, window); err == nil {
		t.Fatal("expected second release of the same window to fail")
	}
}

func TestVerifyAndRelease_TooEarlyBeforeTicking(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	window := windowFor(0, 5)
	checksum := windowChecksumFromEngine(t, e, window)

	if _, err := e.VerifyAndRelease(ctx, checksum, window); err == nil {
		t.Fatal("expected too-early failure before reaching t_end")
	}
}

func TestVerifyAndRelease_RejectsBadChecksum(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	window := windowFor(0, 1)
	if err := e.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var bad [32]byte
	bad[0] = 0xFF
	if _, err := e.VerifyAndRelease(ctx, bad, window); err == nil {
		t.Fatal("expected invalid checksum to be rejected")
	}
}

func TestEncryptForWindow_RejectsPassedWindow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	for i := 0; i < 5; i++ {
		if err := e.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if _, err := e.EncryptForWindow(ctx, []byte("x"), windowFor(0, 2)); err == nil {
		t.Fatal("expected window-passed rejection")
	}
}

func TestEncryptForWindow_RejectsTooFarFuture(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	if _, err := e.EncryptForWindow(ctx, []byte("x"), windowFor(0, engine.MaxFutureTicks+1)); err == nil {
		t.Fatal("expected too-far-in-future rejection")
	}
}

func TestStatus_PublicHistoryLenGrowsWithUse(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, before := e.Status()
	if before < 1 {
		t.Fatalf("fresh engine history len = %d, want >= 1", before)
	}

	if _, err := e.EncryptForWindow(ctx, []byte("x"), windowFor(0, 10)); err != nil {
		t.Fatalf("EncryptForWindow: %v", err)
	}

	current, after := e.Status()
	if current != 0 {
		t.Fatalf("EncryptForWindow must not advance current_t, got %d", current)
	}
	if after < before {
		t.Fatalf("history len shrank from %d to %d", before, after)
	}
}
