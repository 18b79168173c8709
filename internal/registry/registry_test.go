package registry

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()

	s := r.Register("alice", server)
	require.True(t, s.Online())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
}

func TestReRegistrationSupersedesAndClosesPrior(t *testing.T) {
	r := NewRegistry()
	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	defer client2.Close()

	first := r.Register("alice", server1)
	second := r.Register("alice", server2)

	assert.False(t, first.Online())
	assert.True(t, second.Online())

	// The superseded connection must be closed by the registry.
	_ = client1.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client1.Read(make([]byte, 1))
	assert.Error(t, err)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestConcurrentRegistrationLeavesOneOnlineSession(t *testing.T) {
	r := NewRegistry()
	const n = 16

	sessions := make([]*ClientSession, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			server, client := net.Pipe()
			t.Cleanup(func() { _ = client.Close() })
			sessions[i] = r.Register("alice", server)
		}(i)
	}
	wg.Wait()

	online := 0
	for _, s := range sessions {
		if s.Online() {
			online++
		}
	}
	assert.Equal(t, 1, online)

	current, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.True(t, current.Online())
}

func TestTouchIsMonotonic(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()

	s := r.Register("alice", server)
	later := time.Now().Add(10 * time.Second)
	s.Touch(later)
	s.Touch(later.Add(-5 * time.Second))

	assert.Equal(t, later.UnixNano(), s.LastHeartbeat().UnixNano())
}

func TestMarkOfflineIsIdempotent(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()

	s := r.Register("alice", server)
	assert.True(t, s.MarkOffline())
	assert.False(t, s.MarkOffline())
	r.MarkOffline("alice") // no-op, must not panic
	r.MarkOffline("ghost")
}

func TestSendToOfflineSessionFails(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()
	defer client.Close()

	s := r.Register("alice", server)
	s.MarkOffline()

	err := s.Send(protocol.NewMessage("bob", "alice", "hi"))
	assert.ErrorIs(t, err, ErrSessionOffline)
}

func TestUnregisterOnlyRemovesCurrentSession(t *testing.T) {
	r := NewRegistry()
	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	defer client1.Close()
	defer client2.Close()

	first := r.Register("alice", server1)
	second := r.Register("alice", server2)

	assert.False(t, r.Unregister(first))
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Unregister(second))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestSendGivesUpWhenPeerStopsReading(t *testing.T) {
	r := NewRegistry()
	r.SetWriteTimeout(100 * time.Millisecond)
	server, client := net.Pipe()
	defer client.Close()

	// The peer never reads, so the unbuffered pipe blocks the write until
	// the deadline fires.
	s := r.Register("alice", server)

	start := time.Now()
	err := s.Send(protocol.NewMessage("bob", "alice", "stuck"))
	require.Error(t, err)
	assert.True(t, os.IsTimeout(err), "expected a deadline error, got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second, "write must return within the configured bound")
}

func TestConcurrentSendsNeverInterleaveFrames(t *testing.T) {
	r := NewRegistry()
	server, client := net.Pipe()

	s := r.Register("alice", server)

	const senders = 4
	const perSender = 25

	done := make(chan struct{})
	var frames []*protocol.Frame
	go func() {
		defer close(done)
		reader := protocol.NewFrameReader(bufio.NewReader(client))
		for i := 0; i < senders*perSender; i++ {
			f, err := reader.Read()
			if err != nil {
				t.Errorf("read frame: %v", err)
				return
			}
			frames = append(frames, f)
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				payload := fmt.Sprintf("sender-%d-msg-%d", g, i)
				require.NoError(t, s.Send(protocol.NewMessage("bob", "alice", payload)))
			}
		}(g)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frames")
	}
	assert.Len(t, frames, senders*perSender)
	_ = client.Close()
}
