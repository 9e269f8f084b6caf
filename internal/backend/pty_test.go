//go:build linux || darwin

package backend

import (
	"bytes"
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	output bytes.Buffer
	exits  []ExitEvent
	exitCh chan ExitEvent
}

func record(t *testing.T, b *PTYBackend) *recorder {
	t.Helper()
	r := &recorder{exitCh: make(chan ExitEvent, 8)}
	out := b.SubscribeOutput(func(e OutputEvent) {
		r.mu.Lock()
		r.output.Write(e.Data)
		r.mu.Unlock()
	})
	ex := b.SubscribeExit(func(e ExitEvent) {
		r.mu.Lock()
		r.exits = append(r.exits, e)
		r.mu.Unlock()
		r.exitCh <- e
	})
	t.Cleanup(func() {
		out.Unsubscribe()
		ex.Unsubscribe()
	})
	return r
}

func (r *recorder) waitExit(t *testing.T) ExitEvent {
	t.Helper()
	select {
	case e := <-r.exitCh:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
		return ExitEvent{}
	}
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.String()
}

func TestPTYBackend_OutputAndExitCode(t *testing.T) {
	b := NewPTYBackend(WithSize(80, 24))
	defer b.Close()
	r := record(t, b)

	err := b.Spawn(context.Background(), SpawnRequest{
		ID: "job", Generation: 1,
		Command: "/bin/sh", Args: []string{"-c", "printf \"$GREETING\"; exit 3"},
		Env: map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)

	e := r.waitExit(t)
	assert.Equal(t, "job", e.ID)
	assert.Equal(t, uint64(1), e.Generation)
	require.NotNil(t, e.Code)
	assert.Equal(t, 3, *e.Code)
	assert.Contains(t, r.text(), "hello")
	assert.False(t, b.IsRunning("job"))
}

func TestPTYBackend_Kill(t *testing.T) {
	b := NewPTYBackend()
	defer b.Close()
	r := record(t, b)

	require.NoError(t, b.Spawn(context.Background(), SpawnRequest{ID: "sleeper", Generation: 7, Command: "sleep", Args: []string{"30"}}))
	assert.True(t, b.IsRunning("sleeper"))

	require.NoError(t, b.Kill(context.Background(), "sleeper"))
	e := r.waitExit(t)
	assert.Equal(t, uint64(7), e.Generation)
	assert.Nil(t, e.Code)

	assert.ErrorIs(t, b.Kill(context.Background(), "sleeper"), ErrNotFound)

	// The reaped process must not report a second exit.
	time.Sleep(2 * drainTimeout)
	r.mu.Lock()
	assert.Len(t, r.exits, 1)
	r.mu.Unlock()
}

func TestPTYBackend_SignalledExitHasCode(t *testing.T) {
	b := NewPTYBackend()
	defer b.Close()
	r := record(t, b)

	require.NoError(t, b.Spawn(context.Background(), SpawnRequest{ID: "crash", Generation: 1, Command: "/bin/sh", Args: []string{"-c", "kill -SEGV $$"}}))

	e := r.waitExit(t)
	require.NotNil(t, e.Code)
	assert.Equal(t, 128+int(syscall.SIGSEGV), *e.Code)
}

func TestPTYBackend_RespawnReplacesSilently(t *testing.T) {
	b := NewPTYBackend()
	defer b.Close()
	r := record(t, b)

	ctx := context.Background()
	require.NoError(t, b.Spawn(ctx, SpawnRequest{ID: "svc", Generation: 1, Command: "sleep", Args: []string{"30"}}))
	require.NoError(t, b.Spawn(ctx, SpawnRequest{ID: "svc", Generation: 2, Command: "/bin/sh", Args: []string{"-c", "exit 0"}}))

	e := r.waitExit(t)
	assert.Equal(t, uint64(2), e.Generation)
	require.NotNil(t, e.Code)
	assert.Equal(t, 0, *e.Code)

	time.Sleep(2 * drainTimeout)
	r.mu.Lock()
	assert.Len(t, r.exits, 1)
	r.mu.Unlock()
}

func TestPTYBackend_WriteAndResize(t *testing.T) {
	b := NewPTYBackend()
	defer b.Close()
	r := record(t, b)

	require.NoError(t, b.Spawn(context.Background(), SpawnRequest{ID: "cat", Generation: 1, Command: "/bin/sh", Args: []string{"-c", "read line; echo got:$line"}}))
	require.NoError(t, b.Resize("cat", 100, 40))
	require.NoError(t, b.Write("cat", []byte("ping\n")))

	r.waitExit(t)
	assert.Contains(t, r.text(), "got:ping")
	assert.ErrorIs(t, b.Write("cat", []byte("x")), ErrNotFound)
	assert.ErrorIs(t, b.Resize("missing", 1, 1), ErrNotFound)
}

func TestPTYBackend_SpawnErrors(t *testing.T) {
	b := NewPTYBackend()
	ctx := context.Background()

	assert.ErrorIs(t, b.Spawn(ctx, SpawnRequest{ID: "x"}), ErrEmptyCommand)
	assert.Error(t, b.Spawn(ctx, SpawnRequest{ID: "x", Command: "/definitely/not/here"}))
	assert.False(t, b.IsRunning("x"))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Spawn(ctx, SpawnRequest{ID: "x", Command: "true"}), ErrClosed)
}
