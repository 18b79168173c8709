// Package registry tracks client sessions: the live record of one client's
// connection and liveness state.
package registry

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// State is the liveness of a session.
type State int32

const (
	StateOnline State = iota
	StateOffline
)

func (s State) String() string {
	if s == StateOnline {
		return "online"
	}
	return "offline"
}

// ErrSessionOffline is returned by Send when the session has been demoted;
// the router treats it like any other write failure and queues the message.
var ErrSessionOffline = errors.New("session is offline")

// ClientSession owns one client connection exclusively while Online. All
// writes go through the session's write lock so concurrent senders never
// interleave frames.
type ClientSession struct {
	ID string

	mu           sync.Mutex // serializes writes
	conn         net.Conn   // set once at construction, never swapped
	writeTimeout time.Duration
	state        atomic.Int32
	lastBeat     atomic.Int64 // unix nanoseconds, non-decreasing while Online
}

func newSession(id string, conn net.Conn, now time.Time, writeTimeout time.Duration) *ClientSession {
	s := &ClientSession{ID: id, conn: conn, writeTimeout: writeTimeout}
	s.state.Store(int32(StateOnline))
	s.lastBeat.Store(now.UnixNano())
	return s
}

func (s *ClientSession) State() State {
	return State(s.state.Load())
}

func (s *ClientSession) Online() bool {
	return s.State() == StateOnline
}

// Touch records a heartbeat arrival. Timestamps never move backwards, even
// if ticks race each other.
func (s *ClientSession) Touch(t time.Time) {
	nano := t.UnixNano()
	for {
		prev := s.lastBeat.Load()
		if nano <= prev {
			return
		}
		if s.lastBeat.CompareAndSwap(prev, nano) {
			return
		}
	}
}

func (s *ClientSession) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

// MarkOffline demotes the session and closes its connection. Idempotent;
// reports whether this call performed the transition.
func (s *ClientSession) MarkOffline() bool {
	if !s.state.CompareAndSwap(int32(StateOnline), int32(StateOffline)) {
		return false
	}
	// Closing without taking mu unblocks a writer that is stuck on a dead
	// connection; net.Conn tolerates concurrent Close.
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !IsNetClosedError(err) {
			logger.WarnF("[%s] Error occurred while closing connection, details: %v", s.ID, err)
		}
	}
	return true
}

// Send relays one frame through the serialized write path.
func (s *ClientSession) Send(frame *protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(data)
}

// SendQueued drains frames through the supplied flush and relays them in
// order, all under a single write-lock hold taken *before* the flush runs.
// Emptying the queue and writing its contents are therefore one atomic step
// against concurrent Sends: nothing can slip in between. Returns the drained
// frames and how many of them were written before the first failure; a nil
// frames slice means the flush itself failed.
func (s *ClientSession) SendQueued(flush func() ([]*protocol.Frame, error)) ([]*protocol.Frame, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames, err := flush()
	if err != nil || len(frames) == 0 {
		return frames, 0, err
	}
	for i, frame := range frames {
		data, err := frame.Encode()
		if err != nil {
			return frames, i, err
		}
		if err := s.write(data); err != nil {
			return frames, i, err
		}
	}
	return frames, len(frames), nil
}

// write must be called with mu held.
func (s *ClientSession) write(data []byte) error {
	if !s.Online() {
		return ErrSessionOffline
	}
	if s.writeTimeout > 0 {
		// Bounded wait: a peer that stopped reading fails the write instead
		// of pinning the sender, and the failure demotes the session.
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			logger.WarnF("[%s] Fail to arm write deadline, details: %v", s.ID, err)
		}
	}
	total := 0
	for total < len(data) {
		n, err := s.conn.Write(data[total:])
		if err != nil {
			logger.ErrorF("[%s] Fail to send data, details: %v", s.ID, err)
			return err
		}
		total += n
	}
	logger.DebugF("[%s] Send %d bytes to client", s.ID, total)
	return nil
}
