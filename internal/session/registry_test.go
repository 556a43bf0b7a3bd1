package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id string
}

func (h *fakeHandle) ConnID() string { return h.id }

func (h *fakeHandle) SendMessage(message interface{}) error { return nil }

func (h *fakeHandle) Close() error { return nil }

func TestRegistry_Bind_First_Handle(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	h := &fakeHandle{id: "c1"}

	// When a user binds their first connection
	binding := reg.Bind(1, h)

	// Then there is no previous handle and one session
	req.Nil(binding.Previous)
	req.Equal(1, binding.Sessions)
	req.False(binding.Rebound)

	got, ok := reg.Lookup(1)
	req.True(ok)
	req.Equal(h, got)

	userID, ok := reg.LookupUser(h)
	req.True(ok)
	req.Equal(uint64(1), userID)
}

func TestRegistry_Bind_Second_Handle_Returns_Previous(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	h1 := &fakeHandle{id: "c1"}
	h2 := &fakeHandle{id: "c2"}

	// Given a user is connected once
	reg.Bind(1, h1)

	// When the same user connects again
	binding := reg.Bind(1, h2)

	// Then the first handle is reported as previous and both stay live
	req.Equal(h1, binding.Previous)
	req.Equal(2, binding.Sessions)
	req.Equal([]Handle{h1, h2}, reg.LookupAll(1))

	latest, ok := reg.Lookup(1)
	req.True(ok)
	req.Equal(h2, latest)
}

func TestRegistry_Bind_Same_Handle_Twice_Is_Rebound(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	h := &fakeHandle{id: "c1"}

	reg.Bind(1, h)
	binding := reg.Bind(1, h)

	req.True(binding.Rebound)
	req.Equal(1, binding.Sessions)
	req.Nil(binding.Previous)
}

func TestRegistry_Bind_Moves_Handle_Between_Users(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	h := &fakeHandle{id: "c1"}

	reg.Bind(1, h)
	binding := reg.Bind(2, h)

	req.Equal(1, binding.Sessions)
	req.Equal(0, reg.Count(1))
	req.Equal(1, reg.Count(2))

	userID, ok := reg.LookupUser(h)
	req.True(ok)
	req.Equal(uint64(2), userID)
}

func TestRegistry_Unbind_Reports_Remaining(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	h1 := &fakeHandle{id: "c1"}
	h2 := &fakeHandle{id: "c2"}
	reg.Bind(1, h1)
	reg.Bind(1, h2)

	// When one of two connections goes away
	userID, remaining, ok := reg.Unbind(h1)

	// Then one session remains
	req.True(ok)
	req.Equal(uint64(1), userID)
	req.Equal(1, remaining)

	// When the last one goes away
	_, remaining, ok = reg.Unbind(h2)
	req.True(ok)
	req.Equal(0, remaining)
	req.Empty(reg.Online())

	_, found := reg.Lookup(1)
	req.False(found)
}

func TestRegistry_Unbind_Stale_Handle_Is_Noop(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	stale := &fakeHandle{id: "c1"}
	fresh := &fakeHandle{id: "c1"}

	// Given a newer handle reuses the connection id
	reg.Bind(1, stale)
	reg.Unbind(stale)
	reg.Bind(1, fresh)

	// When the stale handle is unbound again
	_, _, ok := reg.Unbind(stale)

	// Then the fresh session is untouched
	req.False(ok)
	req.Equal(1, reg.Count(1))
	_, bound := reg.LookupUser(fresh)
	req.True(bound)
}

func TestRegistry_Concurrent_Bind_Unbind(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{id: fmt.Sprintf("c%d", i)}
			reg.Bind(uint64(i%5+1), h)
			if i%2 == 0 {
				reg.Unbind(h)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, id := range reg.Online() {
		total += reg.Count(id)
	}
	req.Equal(25, total)
}
