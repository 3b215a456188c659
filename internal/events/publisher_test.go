package events

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  &models.Event{Type: models.EventTypeRunLog, RunID: "run-1"},
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "event type filter matches",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeRunLog}},
			event:  &models.Event{Type: models.EventTypeRunLog},
			want:   true,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeRunLog}},
			event:  &models.Event{Type: models.EventTypeRunExit},
			want:   false,
		},
		{
			name: "multiple event types - matches any",
			filter: Filter{EventTypes: []models.EventType{
				models.EventTypeRunLog,
				models.EventTypeRunExit,
			}},
			event: &models.Event{Type: models.EventTypeRunExit},
			want:  true,
		},
		{
			name:   "run filter rejects other runs",
			filter: Filter{RunID: "run-1"},
			event:  &models.Event{Type: models.EventTypeRunLog, RunID: "run-2"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}

func TestNewEvent(t *testing.T) {
	event := New(models.EventTypeDownloadDone, "", map[string]any{"dir": "/data"})
	require.NotEmpty(t, event.ID)
	require.False(t, event.Timestamp.IsZero())
	require.Equal(t, models.EventTypeDownloadDone, event.Type)
}

func TestInMemoryPublisher_SubscribePublish(t *testing.T) {
	p := NewInMemoryPublisher()
	var runLogs, all atomic.Int32

	require.NoError(t, p.Subscribe("logs", Filter{EventTypes: []models.EventType{models.EventTypeRunLog}}, func(*models.Event) {
		runLogs.Add(1)
	}))
	require.NoError(t, p.Subscribe("all", Filter{}, func(*models.Event) {
		all.Add(1)
	}))
	require.Equal(t, 2, p.SubscriberCount())

	p.Publish(context.Background(), New(models.EventTypeRunLog, "r", nil))
	p.Publish(context.Background(), New(models.EventTypeRunExit, "r", nil))
	p.Publish(context.Background(), nil)

	require.Equal(t, int32(1), runLogs.Load())
	require.Equal(t, int32(2), all.Load())

	require.NoError(t, p.Unsubscribe("logs"))
	require.ErrorIs(t, p.Unsubscribe("logs"), ErrSubscriptionNotFound)
	require.Equal(t, 1, p.SubscriberCount())
}

func TestInMemoryPublisher_SubscribeErrors(t *testing.T) {
	p := NewInMemoryPublisher()
	require.ErrorIs(t, p.Subscribe("", Filter{}, func(*models.Event) {}), ErrInvalidSubscriptionID)
	require.ErrorIs(t, p.Subscribe("a", Filter{}, nil), ErrNilHandler)
	require.NoError(t, p.Subscribe("a", Filter{}, func(*models.Event) {}))
	require.ErrorIs(t, p.Subscribe("a", Filter{}, func(*models.Event) {}), ErrSubscriptionExists)
	_, err := p.SubscribeChan("a", Filter{}, 1)
	require.ErrorIs(t, err, ErrSubscriptionExists)
}

func TestInMemoryPublisher_SubscribeChanDropsWhenFull(t *testing.T) {
	p := NewInMemoryPublisher()
	ch, err := p.SubscribeChan("sse", Filter{}, 1)
	require.NoError(t, err)

	first := New(models.EventTypeRunLog, "r", nil)
	p.Publish(context.Background(), first)
	p.Publish(context.Background(), New(models.EventTypeRunLog, "r", nil))

	got := <-ch
	require.Equal(t, first.ID, got.ID)

	require.NoError(t, p.Unsubscribe("sse"))
	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	p.Publish(context.Background(), New(models.EventTypeRunLog, "r", nil))
}

func TestInMemoryPublisher_CloseClosesChannels(t *testing.T) {
	p := NewInMemoryPublisher()
	ch, err := p.SubscribeChan("sse", Filter{}, 4)
	require.NoError(t, err)

	p.Close()
	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, p.SubscriberCount())
}
