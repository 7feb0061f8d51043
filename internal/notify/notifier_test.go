package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventTrade}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventTrade, "Trade executed", "bought"))
	require.NoError(t, n.Notify(ctx, EventBotStatus, "Bot started", "b1"))

	assert.Equal(t, []string{"Trade executed"}, s.titles)
}

func TestNotifyEmptyFilterPassesEverything(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventTrade, "a", ""))
	require.NoError(t, n.Notify(ctx, EventBotStatus, "b", ""))
	assert.Len(t, s.titles, 2)
}

func TestNotifyEmergencyBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{EventTrade}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventEmergency, "Emergency stop", "halted"))
	assert.Equal(t, []string{"Emergency stop"}, s.titles)
}

func TestFanOutContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "telegram", err: errors.New("chat not found")}
	healthy := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "Bot stopped", "b1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, []string{"Bot stopped"}, healthy.titles, "the healthy channel still delivered")
}

func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.Notify(context.Background(), EventTrade, "t", "m"))
}
