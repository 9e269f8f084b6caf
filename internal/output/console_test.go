package output

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_EpochFiltering(t *testing.T) {
	c := NewConsole(1024, nil)

	assert.True(t, c.Apply(Flush{ID: "p", Epoch: 0, Data: []byte("old ")}))
	c.Reset("p", 1)
	assert.False(t, c.Apply(Flush{ID: "p", Epoch: 0, Data: []byte("late")}))
	assert.True(t, c.Apply(Flush{ID: "p", Epoch: 1, Data: []byte("new")}))

	data, epoch := c.Snapshot("p")
	assert.Equal(t, "new", string(data))
	assert.Equal(t, uint64(1), epoch)
}

func TestConsole_ResetAfterFreshFlushKeepsIt(t *testing.T) {
	c := NewConsole(1024, nil)
	var got []Flush
	c.Subscribe(func(f Flush) { got = append(got, f) })

	c.Apply(Flush{ID: "p", Data: []byte("stale")})
	// A threshold flush at the new epoch can land before the reset does.
	c.Apply(Flush{ID: "p", Epoch: 1, Data: []byte("fresh")})
	c.Reset("p", 1)

	fr := c.Frame("p")
	assert.Equal(t, "fresh", string(fr.Data))
	assert.Equal(t, uint64(1), fr.Epoch)
	assert.Len(t, got, 2)

	c.Reset("p", 0)
	assert.Equal(t, "fresh", string(c.Frame("p").Data))
}

func TestConsole_NewerEpochResets(t *testing.T) {
	c := NewConsole(1024, nil)
	c.Apply(Flush{ID: "p", Data: []byte("before")})
	c.Apply(Flush{ID: "p", Epoch: 2, Data: []byte("after")})

	data, _ := c.Snapshot("p")
	assert.Equal(t, "after", string(data))
}

func TestConsole_ScrollbackBounded(t *testing.T) {
	c := NewConsole(8, nil)
	c.Apply(Flush{ID: "p", Data: []byte("abcdef")})
	c.Apply(Flush{ID: "p", Data: []byte("ghij")})
	data, _ := c.Snapshot("p")
	assert.Equal(t, "cdefghij", string(data))

	c.Apply(Flush{ID: "p", Data: []byte("0123456789")})
	data, _ = c.Snapshot("p")
	assert.Equal(t, "23456789", string(data))
}

func TestConsole_Subscribe(t *testing.T) {
	c := NewConsole(0, nil)
	var got []Flush
	sub := c.Subscribe(func(f Flush) { got = append(got, f) })

	c.Apply(Flush{ID: "p", Data: []byte("x")})
	c.Reset("p", 1)
	c.Apply(Flush{ID: "p", Epoch: 0, Data: []byte("dropped")})
	sub.Unsubscribe()
	c.Apply(Flush{ID: "p", Epoch: 1, Data: []byte("unseen")})

	require.Len(t, got, 2)
	assert.Equal(t, "x", string(got[0].Data))
	assert.Equal(t, uint64(1), got[1].Epoch)
	assert.Empty(t, got[1].Data)
}

func TestPipeline_ClearDropsInFlight(t *testing.T) {
	p := NewPipeline(Options{Interval: 5 * time.Millisecond, MaxChunks: 100}, 0, nil)
	defer p.Close()

	p.Write("p", []byte("stale"))
	p.Clear("p")
	p.Write("p", []byte("fresh"))

	assert.Eventually(t, func() bool { return string(p.Snapshot("p")) == "fresh" }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "fresh", string(p.Snapshot("p")))
}

func TestPipeline_IndependentIDs(t *testing.T) {
	p := NewPipeline(Options{Interval: time.Hour, MaxChunks: 2}, 0, nil)
	defer p.Close()

	var mu sync.Mutex
	seen := map[string]string{}
	p.Subscribe(func(f Flush) {
		mu.Lock()
		seen[f.ID] += string(f.Data)
		mu.Unlock()
	})

	p.Write("a", []byte("1"))
	p.Write("b", []byte("x"))
	p.Write("a", []byte("2"))
	p.Flush("b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "12", seen["a"])
	assert.Equal(t, "x", seen["b"])
}

func TestPipeline_RemoveAndClose(t *testing.T) {
	p := NewPipeline(Options{Interval: time.Hour, MaxChunks: 1}, 0, nil)
	p.Write("a", []byte("1"))
	assert.Equal(t, "1", string(p.Snapshot("a")))

	p.Remove("a")
	assert.Empty(t, p.Snapshot("a"))
	assert.Equal(t, 0, p.registry.Len())

	p.Close()
	p.Write("a", []byte("2"))
	assert.Empty(t, p.Snapshot("a"))
}

func TestRegistry_LazyAndEpoch(t *testing.T) {
	r := NewRegistry(Options{}, nil)
	assert.Equal(t, uint64(0), r.Epoch("x"))
	assert.Equal(t, 0, r.Len())

	assert.Equal(t, uint64(1), r.Clear("x"))
	assert.Equal(t, uint64(2), r.Clear("x"))
	assert.Equal(t, uint64(2), r.Epoch("x"))
	assert.Equal(t, 1, r.Len())

	r.Close()
	r.Close()
	assert.Equal(t, uint64(0), r.Clear("x"))
}

func TestConsole_FrameSequence(t *testing.T) {
	c := NewConsole(64, nil)
	var seen []uint64
	c.Subscribe(func(f Flush) { seen = append(seen, f.Seq) })

	c.Apply(Flush{ID: "p", Data: []byte("a")})
	fr := c.Frame("p")
	c.Apply(Flush{ID: "p", Data: []byte("b")})
	c.Reset("p", 1)

	assert.Equal(t, "a", string(fr.Data))
	assert.Equal(t, uint64(1), fr.Seq)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	after := c.Frame("p")
	assert.Empty(t, after.Data)
	assert.Equal(t, uint64(1), after.Epoch)
	assert.Equal(t, uint64(3), after.Seq)
}
