// Package engine is the Protocol Engine (spec §4.E): it owns the single
// source of truth for (public chain, private ratchet state, current tick)
// and enforces the invariants that make the protocol forward-secret and
// one-shot. Everything outside this package — HTTP handlers, the CLI, the
// ticker — only ever calls through the Engine interface.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/tempora-project/tempora/internal/chain"
	domaininterfaces "github.com/tempora-project/tempora/internal/domain/interfaces"
	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/primitives"
	"github.com/tempora-project/tempora/internal/ratchet"
)

// MaxFutureTicks bounds how far ahead of current_t a window's end may sit,
// for both EncryptForWindow and VerifyAndRelease (spec §3).
const MaxFutureTicks = 100

var _ domaininterfaces.Engine = (*Engine)(nil)

// Engine is the concrete, mutex-guarded Protocol Engine. A process holds
// exactly one; all state transitions happen under mu so a concurrent
// EncryptForWindow and VerifyAndRelease can never observe a half-advanced
// ratchet.
type Engine struct {
	mu sync.Mutex

	chain   *chain.Chain
	state   ratchet.State
	current domaintypes.Tick

	store     domaininterfaces.SnapshotStore
	masterKey []byte // encrypts S and Secret at rest; never itself persisted
}

// New constructs an Engine from already-decrypted state. Use Bootstrap to
// build one from a SnapshotStore (handles the decrypt-on-load /
// generate-on-first-run decision); New is exported mainly for tests.
func New(params domaintypes.PublicParams, state ratchet.State, current domaintypes.Tick, masterKey []byte, store domaininterfaces.SnapshotStore) *Engine {
	return &Engine{
		chain:     chain.New(params),
		state:     state,
		current:   current,
		store:     store,
		masterKey: masterKey,
	}
}

// Bootstrap loads persisted state from store and decrypts it under
// masterKey, or — if the store is empty — generates fresh public params and
// private state and persists that as the initial snapshot (mirrors the
// "Initializing new server state" path of the reference implementation).
func Bootstrap(ctx context.Context, store domaininterfaces.SnapshotStore, masterKey []byte) (*Engine, error) {
	snap, found, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: loading snapshot: %w", err)
	}

	if !found {
		params, state, err := generateFreshState()
		if err != nil {
			return nil, fmt.Errorf("engine: generating fresh state: %w", err)
		}
		e := New(params, state, 0, masterKey, store)
		if err := e.persistLocked(ctx); err != nil {
			return nil, err
		}
		return e, nil
	}

	s, err := primitives.Open(masterKey, snap.EncryptedS.Nonce, snap.EncryptedS.Ciphertext)
	if err != nil {
		return nil, &Error{Kind: KindStateCorruption, Err: fmt.Errorf("decrypting S: %w", err)}
	}
	secret, err := primitives.Open(masterKey, snap.EncryptedSecret.Nonce, snap.EncryptedSecret.Ciphertext)
	if err != nil {
		return nil, &Error{Kind: KindStateCorruption, Err: fmt.Errorf("decrypting secret: %w", err)}
	}
	if len(s) != 32 || len(secret) != 32 {
		return nil, &Error{Kind: KindStateCorruption, Err: fmt.Errorf("decrypted state has wrong length")}
	}

	var state ratchet.State
	copy(state.S[:], s)
	copy(state.Secret[:], secret)
	primitives.Wipe(s)
	primitives.Wipe(secret)

	return New(snap.PublicParams, state, snap.CurrentTick, masterKey, store), nil
}

// DeriveMasterKey hashes arbitrary operator-supplied key material down to a
// 32-byte AES-256 key, mirroring the reference implementation's
// sha256(master_key) normalization so operators can supply a passphrase of
// any length.
func DeriveMasterKey(material []byte) [32]byte {
	return primitives.H(material)
}

// Refresh reloads state from the snapshot store and adopts it if its tick is
// ahead of what's currently in memory. A persisted tick behind the in-memory
// one under the same public params is reported as StateCorruption. This is
// how a process picks up ticks advanced by a separate cmd/tickerd process
// sharing the same store — mirrors the reference implementation's
// refresh_state(), called at the top of every HTTP handler.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, found, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: refreshing snapshot: %w", err)
	}
	if !found {
		return nil
	}

	if snap.PublicParams != e.chain.Params() {
		e.chain = chain.New(snap.PublicParams)
	} else if snap.CurrentTick < e.current {
		return &Error{Kind: KindStateCorruption, Err: fmt.Errorf("persisted tick %d is behind in-memory tick %d", snap.CurrentTick, e.current)}
	}
	if snap.CurrentTick <= e.current {
		return nil
	}

	s, err := primitives.Open(e.masterKey, snap.EncryptedS.Nonce, snap.EncryptedS.Ciphertext)
	if err != nil {
		return &Error{Kind: KindStateCorruption, Err: fmt.Errorf("decrypting refreshed S: %w", err)}
	}
	secret, err := primitives.Open(e.masterKey, snap.EncryptedSecret.Nonce, snap.EncryptedSecret.Ciphertext)
	if err != nil {
		return &Error{Kind: KindStateCorruption, Err: fmt.Errorf("decrypting refreshed secret: %w", err)}
	}
	copy(e.state.S[:], s)
	copy(e.state.Secret[:], secret)
	primitives.Wipe(s)
	primitives.Wipe(secret)
	e.current = snap.CurrentTick
	return nil
}

// Reset discards all state and replaces it with a freshly generated public
// chain and private ratchet at tick 0, persisting the result. It exists for
// development/testing convenience (spec's HTTP façade gates it behind
// Config.AllowReset) and must never be reachable in a real deployment: it
// throws away forward secrecy guarantees for anything already ticked past.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	params, state, err := generateFreshState()
	if err != nil {
		return fmt.Errorf("engine: generating fresh state: %w", err)
	}
	e.chain = chain.New(params)
	e.state = state
	e.current = 0
	return e.persistLocked(ctx)
}

func generateFreshState() (domaintypes.PublicParams, ratchet.State, error) {
	var params domaintypes.PublicParams
	var state ratchet.State
	if _, err := rand.Read(params.Seed[:]); err != nil {
		return params, state, err
	}
	if _, err := rand.Read(params.Salt[:]); err != nil {
		return params, state, err
	}
	if _, err := rand.Read(state.S[:]); err != nil {
		return params, state, err
	}
	if _, err := rand.Read(state.Secret[:]); err != nil {
		return params, state, err
	}
	return params, state, nil
}

// Status reports the current tick and how much of the public chain has been
// materialized, for the status endpoint / CLI.
func (e *Engine) Status() (domaintypes.Tick, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.chain.Len()
}

// Tick advances the logical clock by exactly one step and persists the
// result. Outside of a release and of Refresh adopting a newer snapshot, it
// is the only way current_t moves forward.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(ctx, e.current+1)
}

// EncryptForWindow encrypts plaintext for release at the end of window,
// deriving K_final by simulating the ratchet forward without mutating any
// persistent state (spec §4.E, "Encrypt" — never advances current_t).
func (e *Engine) EncryptForWindow(ctx context.Context, plaintext []byte, window domaintypes.Window) (domaintypes.CiphertextBundle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if window.Start > window.End {
		return domaintypes.CiphertextBundle{}, newErr(KindInvalidWindow, "t_start %d > t_end %d", window.Start, window.End)
	}
	if e.current > window.End {
		return domaintypes.CiphertextBundle{}, newErr(KindWindowPassed, "server at t=%d, window ends at t=%d", e.current, window.End)
	}
	if window.End > e.current+MaxFutureTicks {
		return domaintypes.CiphertextBundle{}, newErr(KindWindowTooFarInFuture, "window end %d exceeds current %d + %d", window.End, e.current, MaxFutureTicks)
	}

	kPublic, err := e.chain.WindowChecksum(window)
	if err != nil {
		return domaintypes.CiphertextBundle{}, newErr(KindInvalidWindow, "%w", err)
	}

	projected, err := ratchet.Project(e.state, e.current, window.End, e.chain.At)
	if err != nil {
		return domaintypes.CiphertextBundle{}, fmt.Errorf("engine: simulating ratchet to t=%d: %w", window.End, err)
	}
	kPrivate := ratchet.ReleaseValue(projected)

	kFinal, err := chain.FinalKey(kPublic, kPrivate)
	if err != nil {
		return domaintypes.CiphertextBundle{}, fmt.Errorf("engine: deriving final key: %w", err)
	}
	defer primitives.Wipe(kFinal)

	nonce, ciphertext, err := primitives.Seal(kFinal, plaintext)
	if err != nil {
		return domaintypes.CiphertextBundle{}, fmt.Errorf("engine: sealing plaintext: %w", err)
	}

	params := e.chain.Params()
	return domaintypes.CiphertextBundle{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Start:      window.Start,
		End:        window.End,
		PublicSeed: params.Seed,
		PublicSalt: params.Salt,
	}, nil
}

// VerifyAndRelease is the one-shot release operation (spec §4.E): it checks
// the caller's checksum against the server's own K_public for window,
// requires the server to be at exactly window.End (not before, not after),
// advances persistent state to window.End to compute the release value,
// then immediately burns past it to window.End+1 so the same window can
// never be released twice.
func (e *Engine) VerifyAndRelease(ctx context.Context, checksum [32]byte, window domaintypes.Window) (domaininterfaces.ReleasedKeys, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if window.Start > window.End {
		return domaininterfaces.ReleasedKeys{}, newErr(KindInvalidWindow, "t_start %d > t_end %d", window.Start, window.End)
	}
	if window.End > e.current+MaxFutureTicks {
		return domaininterfaces.ReleasedKeys{}, newErr(KindWindowTooFarInFuture, "window end %d exceeds current %d + %d", window.End, e.current, MaxFutureTicks)
	}

	expected, err := e.chain.WindowChecksum(window)
	if err != nil {
		return domaininterfaces.ReleasedKeys{}, newErr(KindInvalidWindow, "%w", err)
	}
	if !primitives.ConstantTimeEqual(checksum[:], expected[:]) {
		return domaininterfaces.ReleasedKeys{}, newErr(KindInvalidChecksum, "checksum mismatch for window [%d,%d]", window.Start, window.End)
	}

	if window.End < e.current {
		return domaininterfaces.ReleasedKeys{}, newErr(KindWindowExpired, "server at t=%d, window ended at t=%d", e.current, window.End)
	}
	if window.End > e.current {
		return domaininterfaces.ReleasedKeys{}, newErr(KindTooEarly, "server at t=%d, window ends at t=%d", e.current, window.End)
	}

	if err := e.advanceLocked(ctx, window.End); err != nil {
		return domaininterfaces.ReleasedKeys{}, fmt.Errorf("engine: advancing to release point: %w", err)
	}

	kPrivate := ratchet.ReleaseValue(e.state)

	// The burn: move one tick past what we just released so it can never be
	// handed out again, success or failure of persistence notwithstanding —
	// a failed persist below still leaves in-memory state burned.
	if err := e.advanceLocked(ctx, window.End+1); err != nil {
		return domaininterfaces.ReleasedKeys{}, fmt.Errorf("engine: burning past released window: %w", err)
	}

	return domaininterfaces.ReleasedKeys{
		KPublic:  expected,
		KPrivate: kPrivate,
	}, nil
}

// advanceLocked moves (state, current) forward to target and persists the
// result. Callers must hold mu.
func (e *Engine) advanceLocked(ctx context.Context, target domaintypes.Tick) error {
	if target <= e.current {
		return nil
	}
	next, err := ratchet.Project(e.state, e.current, target, e.chain.At)
	if err != nil {
		return fmt.Errorf("advancing ratchet to t=%d: %w", target, err)
	}
	e.state = next
	e.current = target
	return e.persistLocked(ctx)
}

// persistLocked encrypts the private state under masterKey and snapshots it
// out through the configured store. Callers must hold mu.
func (e *Engine) persistLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	sNonce, sCipher, err := primitives.Seal(e.masterKey, e.state.S[:])
	if err != nil {
		return fmt.Errorf("engine: encrypting S for persistence: %w", err)
	}
	secretNonce, secretCipher, err := primitives.Seal(e.masterKey, e.state.Secret[:])
	if err != nil {
		return fmt.Errorf("engine: encrypting secret for persistence: %w", err)
	}

	snap := domaintypes.Snapshot{
		PublicParams:    e.chain.Params(),
		EncryptedS:      domaintypes.EncryptedBlob{Nonce: sNonce, Ciphertext: sCipher},
		EncryptedSecret: domaintypes.EncryptedBlob{Nonce: secretNonce, Ciphertext: secretCipher},
		CurrentTick:     e.current,
	}
	if err := e.store.Save(ctx, snap); err != nil {
		return &Error{Kind: KindStateCorruption, Err: fmt.Errorf("persisting snapshot: %w", err)}
	}
	return nil
}
