package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/crewteam/internal/domain"
)

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	b := NewBus(nil)
	var got []domain.EventType
	unsubscribe := b.Subscribe(func(ev domain.Event) { got = append(got, ev.Type) })

	b.Publish(domain.Event{Type: domain.EventMessage})
	unsubscribe()
	unsubscribe()
	b.Publish(domain.Event{Type: domain.EventAgentIdle})

	assert.Equal(t, []domain.EventType{domain.EventMessage}, got)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	b := NewBus(nil)
	calls := 0
	b.Subscribe(func(domain.Event) { panic("boom") })
	b.Subscribe(func(domain.Event) { calls++ })

	require.NotPanics(t, func() { b.Publish(domain.Event{Type: domain.EventMessage}) })
	assert.Equal(t, 1, calls)
}

func TestBus_ChannelDropsWhenFull(t *testing.T) {
	b := NewBus(nil)
	ch, closeFn := b.Channel(1)

	b.Publish(domain.Event{Type: domain.EventMessage})
	b.Publish(domain.Event{Type: domain.EventAgentIdle})
	closeFn()
	closeFn()
	b.Publish(domain.Event{Type: domain.EventAgentExited})

	var got []domain.EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventMessage}, got)
}

func TestWatcher_Wait(t *testing.T) {
	b := NewBus(nil)
	w := b.Watch(func(ev domain.Event) bool { return ev.Agent == "worker" })
	defer w.Close()

	b.Publish(domain.Event{Type: domain.EventMessage, Agent: "other"})
	b.Publish(domain.Event{Type: domain.EventMessage, Agent: "worker"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "worker", ev.Agent)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = w.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
