package event

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_PublishOrder(t *testing.T) {
	f := NewFeed[int]()
	var got []string

	f.Subscribe(func(v int) { got = append(got, "a") })
	f.Subscribe(func(v int) { got = append(got, "b") })
	f.Publish(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, f.Count())
}

func TestFeed_UnsubscribeIdempotent(t *testing.T) {
	f := NewFeed[string]()
	var calls atomic.Int32

	sub := f.Subscribe(func(string) { calls.Add(1) })
	other := f.Subscribe(func(string) {})
	assert.NotEqual(t, sub.ID(), other.ID())

	sub.Unsubscribe()
	sub.Unsubscribe()
	f.Publish("x")

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, f.Count())
}

func TestFeed_PanicRecovered(t *testing.T) {
	f := NewFeed[int]()
	var recovered any
	f.OnPanic(func(r any) { recovered = r })

	var after bool
	f.Subscribe(func(int) { panic("boom") })
	f.Subscribe(func(int) { after = true })

	assert.NotPanics(t, func() { f.Publish(1) })
	assert.Equal(t, "boom", recovered)
	assert.True(t, after)
}

func TestFeed_Close(t *testing.T) {
	f := NewFeed[int]()
	var calls atomic.Int32
	f.Subscribe(func(int) { calls.Add(1) })

	f.Close()
	f.Close()
	f.Publish(1)
	sub := f.Subscribe(func(int) { calls.Add(1) })
	sub.Unsubscribe()
	f.Publish(2)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, f.Count())
}

func TestFeed_Concurrent(t *testing.T) {
	f := NewFeed[int]()
	var total atomic.Int64
	f.Subscribe(func(v int) { total.Add(int64(v)) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f.Publish(1)
				s := f.Subscribe(func(int) {})
				s.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2000), total.Load())
}
