package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval8/venuebot/internal/domain"
)

// seriesSource serves a fixed minute-bar series. When resendCursor is set it
// rounds the cursor down to the bar boundary, re-sending the cursor bar the
// way some venues do.
type seriesSource struct {
	candles      []domain.Candle
	resendCursor bool
	calls        int
}

func (s *seriesSource) CandlesBatch(_ context.Context, _, _ string, from time.Time, limit int) ([]domain.Candle, error) {
	s.calls++
	if s.resendCursor {
		from = from.Truncate(time.Minute)
	}
	var out []domain.Candle
	for _, c := range s.candles {
		if c.Timestamp.Before(from) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func minuteSeries(start time.Time, n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Close:     100 + float64(i),
		}
	}
	return out
}

func TestHistoryFetchSinglePage(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &seriesSource{candles: minuteSeries(start, 500)}
	f := NewHistoryFetcher(src, time.Nanosecond, 0)

	got, err := f.Fetch(context.Background(), "BTC/USDT", "1m", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 500)
	assert.Equal(t, 1, src.calls, "a short page ends the fetch")
	assert.True(t, got[0].Timestamp.Equal(start))
}

func TestHistoryFetchStitchesPagesAndDedups(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &seriesSource{candles: minuteSeries(start, 2500), resendCursor: true}
	f := NewHistoryFetcher(src, time.Nanosecond, 0)

	got, err := f.Fetch(context.Background(), "BTC/USDT", "1m", start, start.Add(3000*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2500)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp),
			"series must be strictly increasing at index %d", i)
	}
	assert.GreaterOrEqual(t, src.calls, 3)
}

func TestHistoryFetchStopsAtEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &seriesSource{candles: minuteSeries(start, 500)}
	f := NewHistoryFetcher(src, time.Nanosecond, 0)

	end := start.Add(100 * time.Minute)
	got, err := f.Fetch(context.Background(), "BTC/USDT", "1m", start, end)
	require.NoError(t, err)
	assert.Len(t, got, 100, "end bound is exclusive")
	assert.True(t, got[len(got)-1].Timestamp.Before(end))
}

func TestHistoryFetchHonorsRowCap(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &seriesSource{candles: minuteSeries(start, 3000)}
	f := NewHistoryFetcher(src, time.Nanosecond, 1500)

	got, err := f.Fetch(context.Background(), "BTC/USDT", "1m", start, start.Add(5000*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1500)
}

func TestHistoryFetchRejectsEmptyRange(t *testing.T) {
	f := NewHistoryFetcher(&seriesSource{}, time.Nanosecond, 0)
	now := time.Now()

	_, err := f.Fetch(context.Background(), "BTC/USDT", "1m", now, now)
	assert.Error(t, err)
}

func TestHistoryFetchPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("venue down")
	f := NewHistoryFetcher(errorSource{err: boom}, time.Nanosecond, 0)
	now := time.Now()

	_, err := f.Fetch(context.Background(), "BTC/USDT", "1m", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, boom)
}

type errorSource struct{ err error }

func (s errorSource) CandlesBatch(context.Context, string, string, time.Time, int) ([]domain.Candle, error) {
	return nil, s.err
}
