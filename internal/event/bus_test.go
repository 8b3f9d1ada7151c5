package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus[int]()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	assert.Equal(t, 2, b.Publish(7))
	assert.Equal(t, 7, <-s1.C)
	assert.Equal(t, 7, <-s2.C)
}

func TestBus_CloseUnsubscribes(t *testing.T) {
	b := NewBus[string]()
	s := b.Subscribe()
	s.Close()
	s.Close()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Publish("x"))

	_, ok := <-s.C
	assert.False(t, ok, "channel must be closed")
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus[int]()
	slow := b.SubscribeBuffered(1)
	fast := b.SubscribeBuffered(4)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, 0, <-slow.C)
	assert.Len(t, fast.C, 3)
}

func TestBus_CloseBus(t *testing.T) {
	b := NewBus[int]()
	s := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-s.C
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
	late.Close()
}

func TestBus_ConcurrentSubscribeAndPublish(t *testing.T) {
	b := NewBus[int]()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := b.Subscribe()
			s.Close()
		}()
		go func(v int) {
			defer wg.Done()
			b.Publish(v)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, b.Len())
}
