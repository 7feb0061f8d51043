package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BotStore persists bot records.
type BotStore interface {
	Create(ctx context.Context, bot Bot) error
	GetByID(ctx context.Context, id string) (Bot, error)
	UpdateStatus(ctx context.Context, id string, status BotStatus) error
	Update(ctx context.Context, bot Bot) error
	ListByUser(ctx context.Context, userID string) ([]Bot, error)
	// ListByStatus supports crash recovery: bots persisted as running are
	// resumed on startup.
	ListByStatus(ctx context.Context, status BotStatus) ([]Bot, error)
}

// TradeStore persists executed fills and serves the time-scoped aggregates
// the risk engine needs.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListByBot(ctx context.Context, botID string, opts ListOpts) ([]Trade, error)
	SumPnLSince(ctx context.Context, botID string, since time.Time) (float64, error)
	CountSince(ctx context.Context, botID string, since time.Time) (int64, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// AuditEntry is a single durable audit log row.
type AuditEntry struct {
	ID        int64
	BotID     string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, botID, event string, detail map[string]any) error
	List(ctx context.Context, botID string, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// StrategyStateStore persists opaque state blobs under caller-chosen keys:
// strategy-internal state (grid, martingale) under the bot id, paper-ledger
// checkpoints under a prefixed key. Both survive a process restart.
type StrategyStateStore interface {
	Save(ctx context.Context, key string, state []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// RateLimiter provides rate limiting shared across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. The scheduler holds a per-bot
// lock while a bot runs so two replicas never trade the same bot.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
