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
	name string
	sent []string
	fail bool
}

func (s *fakeSender) Send(_ context.Context, title, _ string) error {
	if s.fail {
		return errors.New("channel down")
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, []string{EventBreakerTripped, EventTriggerFired}, testLogger())

	require.NoError(t, n.Notify(ctx, EventBreakerTripped, "tripped", "msg"))
	require.NoError(t, n.Notify(ctx, EventFeesClaimed, "claimed", "msg"))

	assert.Equal(t, []string{"tripped"}, sender.sent, "unlisted events are dropped")
}

func TestNotifyEmptyAllowlistForwardsEverything(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(ctx, EventCompounded, "compounded", "msg"))
	assert.Len(t, sender.sent, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, []string{EventError}, testLogger())

	require.NoError(t, n.NotifyAll(ctx, "close-all", "msg"))
	assert.Len(t, sender.sent, 1)
}

func TestDispatchCollectsSenderFailures(t *testing.T) {
	ctx := context.Background()
	dead := &fakeSender{name: "tg", fail: true}
	alive := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{dead, alive}, nil, testLogger())

	err := n.Notify(ctx, EventError, "boom", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tg")
	assert.Len(t, alive.sent, 1, "one dead channel must not block the other")
}

func TestNotifierWithoutSendersIsQuiet(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}
