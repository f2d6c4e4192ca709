package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDispatchesByType(t *testing.T) {
	bus := New()
	var chapters, all []EventType
	require.NoError(t, bus.Subscribe(ChapterCompleted, func(ctx context.Context, ev Event) error {
		chapters = append(chapters, ev.Type)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(ctx context.Context, ev Event) error {
		all = append(all, ev.Type)
		return nil
	}))

	err := bus.Publish(context.Background(),
		NewEvent(ChapterCompleted, 1, 2, 3, nil),
		NewEvent(CourseCompleted, 1, 2, 0, map[string]interface{}{"condition": "perfect"}),
	)
	require.NoError(t, err)
	assert.Equal(t, []EventType{ChapterCompleted}, chapters)
	assert.Equal(t, []EventType{ChapterCompleted, CourseCompleted}, all)
}

func TestPublishContinuesAfterFailure(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	calls := 0
	require.NoError(t, bus.Subscribe(BadgeGranted, func(ctx context.Context, ev Event) error {
		return boom
	}))
	require.NoError(t, bus.Subscribe(BadgeGranted, func(ctx context.Context, ev Event) error {
		panic("handler exploded")
	}))
	require.NoError(t, bus.Subscribe(BadgeGranted, func(ctx context.Context, ev Event) error {
		calls++
		return nil
	}))

	err := bus.Publish(context.Background(), NewEvent(BadgeGranted, 1, 2, 0, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, 1, calls)
}

func TestSubscribeNilHandler(t *testing.T) {
	bus := New()
	assert.ErrorIs(t, bus.Subscribe(StatusChanged, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(TimeoutOccurred, 7, 8, 9, map[string]interface{}{"scope": "chapter"})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, uint(7), ev.UserID)
	assert.Equal(t, uint(9), ev.ChapterID)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.NotEqual(t, ev.ID, NewEvent(TimeoutOccurred, 7, 8, 9, nil).ID)
}
