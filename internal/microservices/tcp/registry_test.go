package tcp

import (
	"fmt"
	"sync"
	"testing"

	"pkthub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewClientRegistry()
	conn := newFakeConn("10.0.0.1:5000")

	client, err := r.Register(conn)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5000", client.Address())
	assert.NotEmpty(t, client.SessionID)
	assert.False(t, client.IsAuthenticated())
	assert.Nil(t, client.User())

	found, err := r.Lookup("10.0.0.1:5000")
	require.NoError(t, err)
	assert.Same(t, client, found)

	assert.Same(t, client, r.Unregister("10.0.0.1:5000"))

	_, err = r.Lookup("10.0.0.1:5000")
	assert.ErrorIs(t, err, ErrClientNotFound)
	assert.Equal(t, 0, r.Count())
}

func TestClientRegistry_DuplicateRegister(t *testing.T) {
	r := NewClientRegistry()
	_, err := r.Register(newFakeConn("10.0.0.1:5000"))
	require.NoError(t, err)

	_, err = r.Register(newFakeConn("10.0.0.1:5000"))
	assert.ErrorIs(t, err, ErrClientExists)
	assert.Equal(t, 1, r.Count())
}

func TestClientRegistry_UnregisterTwiceIsNoop(t *testing.T) {
	r := NewClientRegistry()
	_, err := r.Register(newFakeConn("10.0.0.1:5000"))
	require.NoError(t, err)

	assert.NotNil(t, r.Unregister("10.0.0.1:5000"))
	assert.NotPanics(t, func() {
		assert.Nil(t, r.Unregister("10.0.0.1:5000"))
		assert.Nil(t, r.Unregister("never-registered"))
	})
}

func TestClientRegistry_Snapshot(t *testing.T) {
	r := NewClientRegistry()
	first, err := r.Register(newFakeConn("10.0.0.1:5000"))
	require.NoError(t, err)
	_, err = r.Register(newFakeConn("10.0.0.2:5000"))
	require.NoError(t, err)

	first.Authenticate(&models.User{ID: "u1", Username: "alice"})

	infos := r.Snapshot()
	require.Len(t, infos, 2)
	byAddr := map[string]ClientInfo{}
	for _, info := range infos {
		byAddr[info.Address] = info
	}
	assert.True(t, byAddr["10.0.0.1:5000"].Authenticated)
	assert.Equal(t, "alice", byAddr["10.0.0.1:5000"].Username)
	assert.False(t, byAddr["10.0.0.2:5000"].Authenticated)
	assert.Empty(t, byAddr["10.0.0.2:5000"].Username)
}

func TestClientRegistry_Concurrent(t *testing.T) {
	r := NewClientRegistry()
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.0.0.%d:5000", i)
			_, err := r.Register(newFakeConn(addr))
			assert.NoError(t, err)
			_, err = r.Lookup(addr)
			assert.NoError(t, err)
			r.Snapshot()
			if i%2 == 0 {
				r.Unregister(addr)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n/2, r.Count())
}
