package ipc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, bus *Bus, name string) (*Subscription, <-chan string) {
	t.Helper()
	ch := make(chan string, 100)
	sub, err := bus.On(name, func(p []byte) { ch <- string(p) })
	require.NoError(t, err)
	return sub, ch
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func TestSendOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, ch := collect(t, bus, StreamChannel("t1"))
	for i := 0; i < 50; i++ {
		require.True(t, bus.Send(StreamChannel("t1"), []byte(fmt.Sprint(i))))
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprint(i), receive(t, ch))
	}
}

func TestSingleSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, _ := collect(t, bus, "c")
	_, err := bus.On("c", func([]byte) {})
	assert.ErrorIs(t, err, ErrChannelBusy)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, err = bus.On("c", func([]byte) {})
	assert.NoError(t, err)
}

func TestSendWithoutSubscriberDrops(t *testing.T) {
	bus := New()
	defer bus.Close()
	assert.False(t, bus.Send("nobody", []byte("x")))
}

func TestChannelsAreIndependent(t *testing.T) {
	bus := New()
	defer bus.Close()

	_, a := collect(t, bus, StreamChannel("a"))
	_, b := collect(t, bus, StreamChannel("b"))
	bus.Send(StreamChannel("b"), []byte("for b"))
	bus.Send(StreamChannel("a"), []byte("for a"))

	assert.Equal(t, "for a", receive(t, a))
	assert.Equal(t, "for b", receive(t, b))
}

func TestOnce(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan string, 2)
	sub, err := bus.Once("c", func(p []byte) { ch <- string(p) })
	require.NoError(t, err)

	bus.Send("c", []byte("first"))
	assert.Equal(t, "first", receive(t, ch))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("once subscription did not detach")
	}
	assert.False(t, bus.HasSubscriber("c"))
	assert.False(t, bus.Send("c", []byte("second")))
}

func TestUnsubscribeFromHandler(t *testing.T) {
	bus := New()
	defer bus.Close()

	got := make(chan string, 10)
	var sub *Subscription
	sub, err := bus.On("c", func(p []byte) {
		got <- string(p)
		if string(p) == "done" {
			sub.Unsubscribe()
		}
	})
	require.NoError(t, err)

	bus.Send("c", []byte("token"))
	bus.Send("c", []byte("done"))
	assert.Equal(t, "token", receive(t, got))
	assert.Equal(t, "done", receive(t, got))

	<-sub.Done()
	assert.False(t, bus.Send("c", []byte("late")))
}

func TestStaleUnsubscribeKeepsNewSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	old, _ := collect(t, bus, "c")
	old.Unsubscribe()
	_, ch := collect(t, bus, "c")

	old.Unsubscribe()
	require.True(t, bus.Send("c", []byte("x")))
	assert.Equal(t, "x", receive(t, ch))
}

func TestClose(t *testing.T) {
	bus := New()
	sub, _ := collect(t, bus, "c")
	bus.Close()

	<-sub.Done()
	_, err := bus.On("d", func([]byte) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}
