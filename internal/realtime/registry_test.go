package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinLeaveIdempotent(t *testing.T) {
	reg := NewRegistry()
	c := NewClient(nil, 4)

	assert.False(t, reg.Join(c, "a"), "unregistered clients cannot join")

	reg.Register(c)
	assert.True(t, reg.Join(c, "a"))
	assert.False(t, reg.Join(c, "a"))
	assert.Len(t, reg.Members("a"), 1)

	assert.True(t, reg.Leave(c, "a"))
	assert.False(t, reg.Leave(c, "a"))
	assert.False(t, reg.Leave(c, "never-joined"))
	assert.Empty(t, reg.Members("a"))
}

func TestRegistry_RemoveClearsAllRooms(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	c, other := NewClient(nil, 4), NewClient(nil, 4)
	reg.Register(c)
	reg.Register(other)

	reg.Join(c, "a")
	reg.Join(c, "b")
	reg.Join(other, "b")

	left, ok := reg.Remove(c)
	req.True(ok)
	req.ElementsMatch([]string{"a", "b"}, left)
	req.Empty(reg.Members("a"))
	req.Equal([]*Client{other}, reg.Members("b"))
	req.Equal(1, reg.Len())

	_, ok = reg.Remove(c)
	req.False(ok)
	req.False(reg.Join(c, "a"), "removed clients cannot rejoin")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const clients = 50

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(nil, 1)
			reg.Register(c)
			reg.Join(c, "room")
			_ = reg.Members("room")
			reg.Leave(c, "room")
			reg.Join(c, "room")
			reg.Remove(c)
		}()
	}
	wg.Wait()

	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.Members("room"))
}
