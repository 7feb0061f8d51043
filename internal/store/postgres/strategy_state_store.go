package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval8/venuebot/internal/domain"
)

// StrategyStateStore implements domain.StrategyStateStore using PostgreSQL.
// State blobs are opaque to the store; stateful strategies produce and
// consume them through their SerializeState/RestoreState capability, and
// paper-ledger checkpoints ride the same table under a prefixed key.
type StrategyStateStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStateStore creates a new StrategyStateStore backed by the given
// connection pool.
func NewStrategyStateStore(pool *pgxpool.Pool) *StrategyStateStore {
	return &StrategyStateStore{pool: pool}
}

// Save upserts a state blob under key.
func (s *StrategyStateStore) Save(ctx context.Context, key string, state []byte) error {
	const query = `
		INSERT INTO strategy_state (key, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, key, state); err != nil {
		return fmt.Errorf("postgres: save strategy state %s: %w", key, err)
	}
	return nil
}

// Load fetches the state blob under key. Returns domain.ErrNotFound when no
// state has been saved.
func (s *StrategyStateStore) Load(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT state FROM strategy_state WHERE key = $1`

	var state []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load strategy state %s: %w", key, err)
	}
	return state, nil
}

// Delete removes the state blob under key. Deleting absent state is not an
// error.
func (s *StrategyStateStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM strategy_state WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("postgres: delete strategy state %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyStateStore = (*StrategyStateStore)(nil)
