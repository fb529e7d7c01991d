package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
)

// schema holds a single row (id = 1), matching the "upsert the one row"
// shape of the reference implementation's SQLite table.
const schema = `
CREATE TABLE IF NOT EXISTS tempora_snapshot (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	public_seed        BYTEA NOT NULL,
	public_salt        BYTEA NOT NULL,
	encrypted_s_nonce  BYTEA NOT NULL,
	encrypted_s_cipher BYTEA NOT NULL,
	encrypted_k_nonce  BYTEA NOT NULL,
	encrypted_k_cipher BYTEA NOT NULL,
	current_tick       BIGINT NOT NULL
)`

// PostgresStore persists the engine's Snapshot in a Postgres table via pgx.
// Like FileStore it never sees plaintext key material — S and Secret arrive
// already encrypted under the engine's master key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the backing table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("snapshot: connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("snapshot: ensuring schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Save upserts the single snapshot row.
func (p *PostgresStore) Save(ctx context.Context, snap domaintypes.Snapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tempora_snapshot (
			id, public_seed, public_salt,
			encrypted_s_nonce, encrypted_s_cipher,
			encrypted_k_nonce, encrypted_k_cipher,
			current_tick
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			public_seed = EXCLUDED.public_seed,
			public_salt = EXCLUDED.public_salt,
			encrypted_s_nonce = EXCLUDED.encrypted_s_nonce,
			encrypted_s_cipher = EXCLUDED.encrypted_s_cipher,
			encrypted_k_nonce = EXCLUDED.encrypted_k_nonce,
			encrypted_k_cipher = EXCLUDED.encrypted_k_cipher,
			current_tick = EXCLUDED.current_tick
	`,
		snap.PublicParams.Seed[:], snap.PublicParams.Salt[:],
		snap.EncryptedS.Nonce[:], snap.EncryptedS.Ciphertext,
		snap.EncryptedSecret.Nonce[:], snap.EncryptedSecret.Ciphertext,
		uint64(snap.CurrentTick),
	)
	if err != nil {
		return fmt.Errorf("snapshot: upserting row: %w", err)
	}
	return nil
}

// Load fetches the single snapshot row. found is false when the table is
// empty (first run).
func (p *PostgresStore) Load(ctx context.Context) (domaintypes.Snapshot, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT public_seed, public_salt,
		       encrypted_s_nonce, encrypted_s_cipher,
		       encrypted_k_nonce, encrypted_k_cipher,
		       current_tick
		FROM tempora_snapshot WHERE id = 1
	`)

	var w wireSnapshot
	var currentTick int64
	err := row.Scan(
		&w.PublicSeed, &w.PublicSalt,
		&w.EncryptedSNonce, &w.EncryptedSCipher,
		&w.EncryptedKNonce, &w.EncryptedKCipher,
		&currentTick,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domaintypes.Snapshot{}, false, nil
	}
	if err != nil {
		return domaintypes.Snapshot{}, false, fmt.Errorf("snapshot: scanning row: %w", err)
	}
	w.CurrentTick = uint64(currentTick)

	snap, err := fromWire(w)
	if err != nil {
		return domaintypes.Snapshot{}, false, err
	}
	return snap, true, nil
}
