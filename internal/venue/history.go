package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

const (
	// historyMaxRows caps a single history fetch regardless of the
	// requested range.
	historyMaxRows = 10000

	// historyBatchSize is how many candles each page requests.
	historyBatchSize = 1000

	// historyPageDelay paces page requests so backfills do not trip the
	// venue's rate limits.
	historyPageDelay = 250 * time.Millisecond
)

// HistorySource pages through historical candles by start time.
type HistorySource interface {
	CandlesBatch(ctx context.Context, symbol, timeframe string, from time.Time, limit int) ([]domain.Candle, error)
}

// HistoryFetcher stitches paginated candle requests into one continuous
// series for backtest seeding and indicator warm-up.
type HistoryFetcher struct {
	source    HistorySource
	pageDelay time.Duration
	maxRows   int
}

// NewHistoryFetcher wraps source. pageDelay and maxRows fall back to the
// package defaults when non-positive.
func NewHistoryFetcher(source HistorySource, pageDelay time.Duration, maxRows int) *HistoryFetcher {
	if pageDelay <= 0 {
		pageDelay = historyPageDelay
	}
	if maxRows <= 0 {
		maxRows = historyMaxRows
	}
	return &HistoryFetcher{source: source, pageDelay: pageDelay, maxRows: maxRows}
}

// Fetch returns candles in [start, end), oldest first, paging forward from
// start until the range is covered, the venue returns a short page, or the
// row cap is hit. Pages after the first are paced by the configured delay.
func (f *HistoryFetcher) Fetch(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("venue/history: end %s not after start %s", end, start)
	}

	var out []domain.Candle
	cursor := start
	for {
		batch, err := f.source.CandlesBatch(ctx, symbol, timeframe, cursor, historyBatchSize)
		if err != nil {
			return nil, fmt.Errorf("venue/history: page from %s: %w", cursor, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, c := range batch {
			if !c.Timestamp.Before(end) {
				return out, nil
			}
			// Venues sometimes re-send the cursor candle on the next
			// page; skip anything we already have.
			if len(out) > 0 && !c.Timestamp.After(out[len(out)-1].Timestamp) {
				continue
			}
			out = append(out, c)
			if len(out) >= f.maxRows {
				return out, nil
			}
		}

		last := batch[len(batch)-1].Timestamp
		if !last.After(cursor) {
			break
		}
		cursor = last.Add(time.Millisecond)

		if len(batch) < historyBatchSize {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.pageDelay):
		}
	}
	return out, nil
}
