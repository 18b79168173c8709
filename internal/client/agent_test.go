package client

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// fakeRelay accepts a single agent connection and exposes the frames it
// receives.
type fakeRelay struct {
	ln     net.Listener
	conn   net.Conn
	frames chan *protocol.Frame
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fr := &fakeRelay{ln: ln, frames: make(chan *protocol.Frame, 256)}
	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fr.conn = conn
		close(accepted)
		reader := protocol.NewFrameReader(conn)
		for {
			f, err := reader.Read()
			if err != nil {
				close(fr.frames)
				return
			}
			fr.frames <- f
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case <-accepted:
			_ = fr.conn.Close()
		default:
		}
	})
	return fr
}

func (fr *fakeRelay) addr() string {
	return fr.ln.Addr().String()
}

func (fr *fakeRelay) next(t *testing.T) *protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-fr.frames:
		require.True(t, ok, "relay connection closed early")
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame from agent")
		return nil
	}
}

func TestDialRegistersFirstAndHeartbeats(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "alice", 30*time.Millisecond)
	require.NoError(t, err)
	defer agent.Close()

	first := relay.next(t)
	assert.Equal(t, protocol.ActionRegister, first.Action)
	assert.Equal(t, "alice", first.Sender)

	// Heartbeats arrive on the timer with non-decreasing timestamps.
	hb1 := relay.next(t)
	hb2 := relay.next(t)
	assert.Equal(t, protocol.ActionHeartbeat, hb1.Action)
	assert.Equal(t, protocol.ActionHeartbeat, hb2.Action)
	assert.GreaterOrEqual(t, hb2.Timestamp, hb1.Timestamp)
}

func TestConcurrentSendsDoNotCorruptFrames(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "alice", 10*time.Millisecond)
	require.NoError(t, err)
	defer agent.Close()

	const senders = 4
	const perSender = 25

	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				require.NoError(t, agent.Send("bob", fmt.Sprintf("s%d-m%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	// Every frame decodes cleanly despite heartbeats racing the sends; the
	// relay sees exactly the sent message count.
	messages := 0
	deadline := time.After(3 * time.Second)
	for messages < senders*perSender {
		select {
		case f, ok := <-relay.frames:
			require.True(t, ok, "relay connection closed early")
			if f.Action == protocol.ActionMessage {
				assert.Equal(t, "alice", f.Sender)
				assert.Equal(t, "bob", f.Recipient)
				messages++
			}
		case <-deadline:
			t.Fatalf("received %d of %d messages", messages, senders*perSender)
		}
	}
}

func TestRegisterRefreshesTheSession(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "alice", time.Hour)
	require.NoError(t, err)
	defer agent.Close()

	first := relay.next(t)
	require.Equal(t, protocol.ActionRegister, first.Action)

	require.NoError(t, agent.Register())
	second := relay.next(t)
	assert.Equal(t, protocol.ActionRegister, second.Action)
	assert.Equal(t, "alice", second.Sender)
}

func TestSendGivesUpWhenRelayStallsReads(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept the connection but never read from it, so the socket buffers
	// fill and the write stalls.
	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-done
		_ = conn.Close()
	}()

	agent, err := Dial(ln.Addr().String(), "alice", time.Hour)
	require.NoError(t, err)
	defer agent.Close()
	agent.writeTimeout = 200 * time.Millisecond

	// Large enough to exhaust the kernel buffers on loopback.
	start := time.Now()
	err = agent.Send("bob", strings.Repeat("x", 8<<20))
	require.Error(t, err)
	assert.True(t, os.IsTimeout(err), "expected a deadline error, got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second, "send must return within the configured bound")
}

func TestInboundFramesAreSurfaced(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "bob", time.Second)
	require.NoError(t, err)
	defer agent.Close()

	relay.next(t) // consume the registration

	frame, err := protocol.NewMessage("alice", "bob", "hi").Encode()
	require.NoError(t, err)
	_, err = relay.conn.Write(frame)
	require.NoError(t, err)

	select {
	case got := <-agent.Messages():
		assert.Equal(t, "hi", got.Payload)
		assert.Equal(t, "alice", got.Sender)
	case <-time.After(3 * time.Second):
		t.Fatal("inbound frame was not surfaced")
	}
}

func TestCloseCancelsBothActivitiesPromptly(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "alice", time.Hour) // heartbeat never fires
	require.NoError(t, err)
	relay.next(t)

	done := make(chan struct{})
	go func() {
		_ = agent.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the receiver and sender promptly")
	}

	// The inbox closes once the receiver exits.
	_, ok := <-agent.Messages()
	assert.False(t, ok)
}

func TestServerSideCloseEndsAgent(t *testing.T) {
	relay := startFakeRelay(t)

	agent, err := Dial(relay.addr(), "alice", time.Hour)
	require.NoError(t, err)
	defer agent.Close()
	relay.next(t)

	_ = relay.conn.Close()

	select {
	case _, ok := <-agent.Messages():
		assert.False(t, ok, "inbox must close when the relay drops the connection")
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not observe the closed connection")
	}
}
