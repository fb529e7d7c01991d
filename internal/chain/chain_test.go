package chain_test

import (
	"bytes"
	"testing"

	"github.com/tempora-project/tempora/internal/chain"
	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
)

func testParams() domaintypes.PublicParams {
	var p domaintypes.PublicParams
	for i := range p.Seed {
		p.Seed[i] = byte(i)
	}
	for i := range p.Salt {
		p.Salt[i] = byte(0xA0 + i)
	}
	return p
}

func TestChain_X0IsSeed(t *testing.T) {
	params := testParams()
	c := chain.New(params)
	x0 := c.At(0)
	if x0 != params.Seed {
		t.Fatalf("X_0 = %x, want seed %x", x0, params.Seed)
	}
}

func TestChain_DeterministicAcrossInstances(t *testing.T) {
	params := testParams()
	a := chain.New(params)
	b := chain.New(params)
	for _, tick := range []domaintypes.Tick{1, 5, 50} {
		if a.At(tick) != b.At(tick) {
			t.Fatalf("tick %d diverged between independently built chains", tick)
		}
	}
}

func TestChain_OutOfOrderAccessMatchesSequential(t *testing.T) {
	params := testParams()
	sequential := chain.New(params)
	var seq [11][32]byte
	for t := domaintypes.Tick(0); t <= 10; t++ {
		seq[t] = sequential.At(t)
	}

	jumpy := chain.New(params)
	jumpy.At(10)
	for t := domaintypes.Tick(0); t <= 10; t++ {
		if jumpy.At(t) != seq[t] {
			t.Fatalf("tick %d mismatch after jumping ahead first", t)
		}
	}
}

func TestChain_LenGrowsLazily(t *testing.T) {
	c := chain.New(testParams())
	if got := c.Len(); got != 1 {
		t.Fatalf("fresh chain Len() = %d, want 1 (X_0 only)", got)
	}
	c.At(5)
	if got := c.Len(); got != 6 {
		t.Fatalf("Len() after At(5) = %d, want 6", got)
	}
}

func TestWindowChecksum_StableAndOrderSensitive(t *testing.T) {
	c := chain.New(testParams())

	a, err := c.WindowChecksum(domaintypes.Window{Start: 2, End: 5})
	if err != nil {
		t.Fatalf("WindowChecksum: %v", err)
	}
	b, err := c.WindowChecksum(domaintypes.Window{Start: 2, End: 5})
	if err != nil {
		t.Fatalf("WindowChecksum: %v", err)
	}
	if a != b {
		t.Fatal("checksum not stable across repeated calls")
	}

	other, err := c.WindowChecksum(domaintypes.Window{Start: 2, End: 6})
	if err != nil {
		t.Fatalf("WindowChecksum: %v", err)
	}
	if a == other {
		t.Fatal("checksum did not change when the window changed")
	}
}

func TestWindowChecksum_RejectsInvertedWindow(t *testing.T) {
	c := chain.New(testParams())
	if _, err := c.WindowChecksum(domaintypes.Window{Start: 5, End: 2}); err == nil {
		t.Fatal("expected error for start > end")
	}
}

func TestFinalKey_Deterministic(t *testing.T) {
	var kPub, kPriv [32]byte
	for i := range kPub {
		kPub[i] = byte(i)
		kPriv[i] = byte(255 - i)
	}
	a, err := chain.FinalKey(kPub, kPriv)
	if err != nil {
		t.Fatalf("FinalKey: %v", err)
	}
	b, err := chain.FinalKey(kPub, kPriv)
	if err != nil {
		t.Fatalf("FinalKey: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("FinalKey not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("FinalKey length = %d, want 32", len(a))
	}
}
