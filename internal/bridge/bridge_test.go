package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/rundeck/internal/backend"
	"github.com/dshills/rundeck/internal/backend/backendtest"
	"github.com/dshills/rundeck/internal/event"
)

type sink struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *sink) Write(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]string{}
	}
	s.data[id] += string(data)
}

func (s *sink) get(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[id]
}

type exitRecorder struct {
	mu    sync.Mutex
	exits []backend.ExitEvent
}

func (r *exitRecorder) HandleExit(ev backend.ExitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, ev)
}

func (r *exitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exits)
}

type fixedGens map[string]uint64

func (g fixedGens) LiveGeneration(id string) (uint64, bool) {
	gen, ok := g[id]
	return gen, ok
}

func TestBridge_Relays(t *testing.T) {
	fake := backendtest.New()
	out := &sink{}
	exits := &exitRecorder{}
	b := New(fake, out, exits, nil)

	h, err := b.Start()
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, fake.Spawn(context.Background(), backend.SpawnRequest{ID: "a", Generation: 1}))
	require.NoError(t, fake.Spawn(context.Background(), backend.SpawnRequest{ID: "b", Generation: 1}))
	fake.EmitOutput("a", "hello ")
	fake.EmitOutput("b", "other")
	fake.EmitOutput("a", "world")
	fake.EmitExit("a", 1, backend.IntPtr(0))

	assert.Equal(t, "hello world", out.get("a"))
	assert.Equal(t, "other", out.get("b"))
	assert.Equal(t, 1, exits.count())
}

func TestBridge_DoubleStartRejected(t *testing.T) {
	fake := backendtest.New()
	b := New(fake, &sink{}, &exitRecorder{}, nil)

	h, err := b.Start()
	require.NoError(t, err)
	defer h.Close()

	_, err = b.Start()
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestBridge_CloseReleasesBoth(t *testing.T) {
	fake := backendtest.New()
	out := &sink{}
	exits := &exitRecorder{}
	h, err := New(fake, out, exits, nil).Start()
	require.NoError(t, err)

	h.Close()
	h.Close()

	fake.EmitOutputGen("a", 1, "ignored")
	fake.EmitExit("a", 1, nil)
	assert.Empty(t, out.get("a"))
	assert.Equal(t, 0, exits.count())
}

func TestBridge_DropsStaleOutput(t *testing.T) {
	fake := backendtest.New()
	out := &sink{}
	h, err := New(fake, out, &exitRecorder{}, nil, WithGenerations(fixedGens{"a": 2})).Start()
	require.NoError(t, err)
	defer h.Close()

	fake.EmitOutputGen("a", 1, "old")
	fake.EmitOutputGen("a", 2, "new")
	fake.EmitOutputGen("gone", 1, "orphan")

	assert.Equal(t, "new", out.get("a"))
	assert.Empty(t, out.get("gone"))
}

type countingSource struct {
	*backendtest.Fake
	released int
}

type countedSub struct {
	event.Subscription
	src *countingSource
}

func (c countedSub) Unsubscribe() {
	c.src.released++
	c.Subscription.Unsubscribe()
}

func (c *countingSource) SubscribeOutput(fn func(backend.OutputEvent)) event.Subscription {
	return countedSub{c.Fake.SubscribeOutput(fn), c}
}

func (c *countingSource) SubscribeExit(fn func(backend.ExitEvent)) event.Subscription {
	return countedSub{c.Fake.SubscribeExit(fn), c}
}

func TestHandle_ReleasesExactlyOnce(t *testing.T) {
	src := &countingSource{Fake: backendtest.New()}
	h, err := New(src, &sink{}, &exitRecorder{}, nil).Start()
	require.NoError(t, err)

	h.Close()
	h.Close()
	assert.Equal(t, 2, src.released)
}
