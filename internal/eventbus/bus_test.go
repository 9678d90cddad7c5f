package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})  {}
func (noopLogger) Info(string, ...interface{})   {}
func (noopLogger) Warn(string, ...interface{})   {}
func (noopLogger) Error(string, ...interface{})  {}
func (l noopLogger) With(...interface{}) core.ILogger { return l }

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := NewBus(4, noopLogger{})
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(core.BusEvent{Type: core.EventPriceUpdate, Data: "42000"})

	select {
	case evt := <-ch:
		assert.Equal(t, core.EventPriceUpdate, evt.Type)
		assert.Equal(t, "42000", evt.Data)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(4, noopLogger{})
	ch, unsubscribe := bus.Subscribe()

	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(4, noopLogger{})
	_, unsubscribe := bus.Subscribe()

	unsubscribe()
	assert.NotPanics(t, func() { unsubscribe() })
}

func TestPriceUpdatesAreLossyUnderBackpressure(t *testing.T) {
	bus := NewBus(2, noopLogger{})
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(core.BusEvent{Type: core.EventPriceUpdate, Data: i})
	}

	require.Equal(t, 1, bus.SubscriberCount(), "a saturated price-update queue must not disconnect the subscriber")

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.LessOrEqual(t, drained, 2)
			return
		}
	}
}

func TestFillEventsDisconnectSaturatedSubscriber(t *testing.T) {
	bus := NewBus(1, noopLogger{})
	_, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(core.BusEvent{Type: core.EventOrderFilled, Data: "fill-1"})
	bus.Publish(core.BusEvent{Type: core.EventOrderFilled, Data: "fill-2"})

	assert.Equal(t, 0, bus.SubscriberCount(), "a subscriber saturated with must-deliver events is disconnected")
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus(4, noopLogger{})
	ch1, unsub1 := bus.Subscribe()
	ch2, unsub2 := bus.Subscribe()
	defer unsub1()
	defer unsub2()

	bus.Publish(core.BusEvent{Type: core.EventStateChange, Data: "RUNNING"})

	for _, ch := range []<-chan core.BusEvent{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, core.EventStateChange, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("a subscriber did not receive the published event")
		}
	}
}
