package tcp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// listenPipe runs Listen on one end of a pipe and returns the other end
// plus the frames handled so far.
func listenPipe(t *testing.T, opts ConnectionOptions) (net.Conn, *ClientConnection, func() []string, <-chan struct{}) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() { peer.Close() })

	cc := NewClientConnection(server, opts, nil, nil)

	var mu sync.Mutex
	var frames []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		cc.Listen(context.Background(), func(line string) {
			mu.Lock()
			frames = append(frames, line)
			mu.Unlock()
		})
	}()

	return peer, cc, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), frames...)
	}, done
}

func TestClientConnection_SplitsFrames(t *testing.T) {
	peer, _, frames, done := listenPipe(t, ConnectionOptions{MaxFrameSize: 64, ReadTimeout: time.Second})

	_, err := peer.Write([]byte("first\r\n\nsecond\n   \nthird\n"))
	require.NoError(t, err)
	peer.Close()
	<-done

	assert.Equal(t, []string{"first", "second", "third"}, frames())
}

func TestClientConnection_DiscardsOversizeFrames(t *testing.T) {
	peer, _, frames, done := listenPipe(t, ConnectionOptions{MaxFrameSize: 32, ReadTimeout: time.Second})

	_, err := peer.Write([]byte(strings.Repeat("a", 200) + "\nafter\n" + strings.Repeat("b", 33) + "\nlast\n"))
	require.NoError(t, err)
	peer.Close()
	<-done

	assert.Equal(t, []string{"after", "last"}, frames())
}

func TestClientConnection_RateLimitAnswersThrottledRequests(t *testing.T) {
	peer, _, frames, done := listenPipe(t, ConnectionOptions{
		MaxFrameSize: 256,
		ReadTimeout:  time.Second,
		RateLimit:    rate.Every(time.Hour),
		RateBurst:    2,
	})

	input := strings.Join([]string{
		`{"requestName":"GET_SELF_USER","requestId":1,"requestStatus":false}`,
		`{"requestName":"GET_SELF_USER","requestId":2,"requestStatus":false}`,
		`{"requestName":"GET_SELF_USER","requestId":3,"requestStatus":false}`,
		`{"requestId":7,"requestStatus":true,"code":"SUCCESS"}`,
		`not json`,
		`{"requestName":"AUTHENTICATION","requestId":4,"requestStatus":false}`,
	}, "\n") + "\n"

	// the pipe is synchronous, so answers must be read while frames are written
	go func() { _, _ = peer.Write([]byte(input)) }()

	reader := bufio.NewReader(peer)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []struct {
		id   int64
		name string
	}{{3, "GET_SELF_USER"}, {4, "AUTHENTICATION"}} {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		answer, err := ParsePacket(line)
		require.NoError(t, err)
		assert.True(t, answer.RequestStatus)
		assert.Equal(t, want.id, answer.RequestID)
		assert.Equal(t, want.name, answer.RequestName)
		assert.Equal(t, CodeError, answer.Code)
	}

	peer.Close()
	<-done

	handled := frames()
	require.Len(t, handled, 3)
	assert.Contains(t, handled[0], `"requestId":1`)
	assert.Contains(t, handled[1], `"requestId":2`)
	// answers over the limit still reach the dispatcher
	assert.Contains(t, handled[2], `"requestId":7`)
}

func TestClientConnection_IdleTimeoutCloses(t *testing.T) {
	_, _, _, done := listenPipe(t, ConnectionOptions{MaxFrameSize: 64, ReadTimeout: 50 * time.Millisecond})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after the read timeout")
	}
}

func TestClientConnection_SendWritesOneFrame(t *testing.T) {
	peer, cc, _, _ := listenPipe(t, ConnectionOptions{MaxFrameSize: 64, ReadTimeout: time.Second})
	reader := bufio.NewReader(peer)

	go func() {
		_ = cc.Send([]byte(`{"requestId":1,"requestStatus":true}`))
	}()

	peer.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"requestId\":1,\"requestStatus\":true}\n", line)
}
