package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval8/venuebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, bot_id, symbol, venue, mode, side, price, amount, fee, pnl, reason, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.BotID, &t.Symbol, &t.Venue, &t.Mode, &t.Side,
			&t.Price, &t.Amount, &t.Fee, &t.PnL, &t.Reason, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert persists one executed fill. Re-inserting the same trade id is a
// no-op via ON CONFLICT DO NOTHING, which keeps scheduler retries idempotent.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (id, bot_id, symbol, venue, mode, side, price, amount, fee, pnl, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.BotID, t.Symbol, t.Venue, string(t.Mode), string(t.Side),
		t.Price, t.Amount, t.Fee, t.PnL, t.Reason, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByBot returns a bot's trades, newest first, with pagination and
// optional time filtering.
func (s *TradeStore) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE bot_id = $1`
	args := []any{botID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for bot %s: %w", botID, err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// SumPnLSince returns the realized P&L of a bot's closing fills since the
// given time. Open-side fills carry a NULL pnl and do not contribute.
func (s *TradeStore) SumPnLSince(ctx context.Context, botID string, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(pnl), 0) FROM trades
		WHERE bot_id = $1 AND executed_at >= $2 AND pnl IS NOT NULL`

	var sum float64
	if err := s.pool.QueryRow(ctx, query, botID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("postgres: sum pnl for bot %s: %w", botID, err)
	}
	return sum, nil
}

// CountSince returns the number of a bot's fills since the given time.
func (s *TradeStore) CountSince(ctx context.Context, botID string, since time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE bot_id = $1 AND executed_at >= $2`

	var n int64
	if err := s.pool.QueryRow(ctx, query, botID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades for bot %s: %w", botID, err)
	}
	return n, nil
}

// ListBefore returns all trades executed strictly before the cutoff. Used by
// the archiver.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	return scanTradeRows(rows)
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
