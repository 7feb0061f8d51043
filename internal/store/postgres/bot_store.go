package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoval8/venuebot/internal/domain"
)

// BotStore implements domain.BotStore using PostgreSQL.
type BotStore struct {
	pool *pgxpool.Pool
}

// NewBotStore creates a new BotStore backed by the given connection pool.
func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

// Create inserts a new bot record.
func (s *BotStore) Create(ctx context.Context, bot domain.Bot) error {
	configJSON, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot config: %w", err)
	}
	riskJSON, err := json.Marshal(bot.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot risk config: %w", err)
	}

	const query = `
		INSERT INTO bots (id, user_id, symbol, venue, strategy, mode, status, config, risk_config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		bot.ID, bot.UserID, bot.Symbol, bot.Venue, bot.Strategy,
		string(bot.Mode), string(bot.Status), configJSON, riskJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: create bot %s: %w", bot.ID, err)
	}
	return nil
}

// GetByID fetches a bot by primary key. Returns domain.ErrNotFound when no
// such bot exists.
func (s *BotStore) GetByID(ctx context.Context, id string) (domain.Bot, error) {
	const query = `
		SELECT id, user_id, symbol, venue, strategy, mode, status,
		       config, risk_config, created_at, updated_at
		FROM bots WHERE id = $1`

	var (
		bot        domain.Bot
		configJSON []byte
		riskJSON   []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&bot.ID, &bot.UserID, &bot.Symbol, &bot.Venue, &bot.Strategy,
		&bot.Mode, &bot.Status, &configJSON, &riskJSON,
		&bot.CreatedAt, &bot.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: get bot %s: %w", id, err)
	}

	if err := json.Unmarshal(configJSON, &bot.Config); err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: unmarshal bot config: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &bot.Risk); err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: unmarshal bot risk config: %w", err)
	}
	return bot, nil
}

// UpdateStatus transitions a bot's durable status.
func (s *BotStore) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	const query = `UPDATE bots SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update bot %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Update rewrites a bot's mutable fields.
func (s *BotStore) Update(ctx context.Context, bot domain.Bot) error {
	configJSON, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot config: %w", err)
	}
	riskJSON, err := json.Marshal(bot.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal bot risk config: %w", err)
	}

	const query = `
		UPDATE bots
		SET symbol = $2, venue = $3, strategy = $4, mode = $5, status = $6,
		    config = $7, risk_config = $8, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		bot.ID, bot.Symbol, bot.Venue, bot.Strategy, string(bot.Mode),
		string(bot.Status), configJSON, riskJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bot %s: %w", bot.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser returns all bots owned by userID.
func (s *BotStore) ListByUser(ctx context.Context, userID string) ([]domain.Bot, error) {
	const query = `
		SELECT id, user_id, symbol, venue, strategy, mode, status,
		       config, risk_config, created_at, updated_at
		FROM bots WHERE user_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots for %s: %w", userID, err)
	}
	return scanBotRows(rows)
}

// ListByStatus returns all bots with the given durable status.
func (s *BotStore) ListByStatus(ctx context.Context, status domain.BotStatus) ([]domain.Bot, error) {
	const query = `
		SELECT id, user_id, symbol, venue, strategy, mode, status,
		       config, risk_config, created_at, updated_at
		FROM bots WHERE status = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots with status %s: %w", status, err)
	}
	return scanBotRows(rows)
}

func scanBotRows(rows pgx.Rows) ([]domain.Bot, error) {
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		var (
			bot        domain.Bot
			configJSON []byte
			riskJSON   []byte
		)
		if err := rows.Scan(
			&bot.ID, &bot.UserID, &bot.Symbol, &bot.Venue, &bot.Strategy,
			&bot.Mode, &bot.Status, &configJSON, &riskJSON,
			&bot.CreatedAt, &bot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bot row: %w", err)
		}
		if err := json.Unmarshal(configJSON, &bot.Config); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal bot config: %w", err)
		}
		if err := json.Unmarshal(riskJSON, &bot.Risk); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal bot risk config: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// Compile-time interface check.
var _ domain.BotStore = (*BotStore)(nil)
