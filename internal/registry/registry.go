package registry

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
)

// Registry maps client ids to their current session. Exactly one Online
// session may exist per id; a later registration supersedes and closes the
// earlier connection. Operations on distinct ids never share a lock, the
// per-key consistency comes from the atomic sync.Map operations.
type Registry struct {
	sessions     sync.Map // client id -> *ClientSession
	writeTimeout time.Duration
}

// DefaultWriteTimeout bounds a single frame write when no explicit timeout
// has been configured. A peer that stops reading must not pin a sender
// goroutine forever.
const DefaultWriteTimeout = 10 * time.Second

func NewRegistry() *Registry {
	return &Registry{writeTimeout: DefaultWriteTimeout}
}

// SetWriteTimeout changes the per-write deadline applied to sessions created
// by later Register calls. Typically set once at startup from the heartbeat
// timeout.
func (r *Registry) SetWriteTimeout(d time.Duration) {
	r.writeTimeout = d
}

// Register creates a fresh Online session for id, replacing any prior one.
// The superseded session is demoted and its connection closed: newest
// registration wins.
func (r *Registry) Register(id string, conn net.Conn) *ClientSession {
	s := newSession(id, conn, time.Now(), r.writeTimeout)
	prev, loaded := r.sessions.Swap(id, s)
	if loaded {
		prevSession := prev.(*ClientSession)
		if prevSession.MarkOffline() {
			logger.WarnF("Client %s registered again, closing superseded connection", id)
		}
	}
	logger.InfoF("Client %s connected", id)
	return s
}

// Lookup returns the current session for id.
func (r *Registry) Lookup(id string) (*ClientSession, bool) {
	if value, ok := r.sessions.Load(id); ok {
		return value.(*ClientSession), true
	}
	return nil, false
}

// Touch refreshes the heartbeat timestamp of the session for id.
func (r *Registry) Touch(id string, t time.Time) {
	if s, ok := r.Lookup(id); ok {
		s.Touch(t)
	}
}

// MarkOffline demotes the session for id. Idempotent, no-op for unknown ids.
func (r *Registry) MarkOffline(id string) {
	if s, ok := r.Lookup(id); ok {
		if s.MarkOffline() {
			logger.InfoF("Client %s marked offline", id)
		}
	}
}

// Unregister retires the session from the registry, but only if it is still
// the current one for its id, so a superseding registration is never
// clobbered by the loser's cleanup.
func (r *Registry) Unregister(s *ClientSession) bool {
	if r.sessions.CompareAndDelete(s.ID, s) {
		logger.InfoF("Client %s disconnected", s.ID)
		return true
	}
	return false
}

// Range visits every session. Used by the heartbeat monitor sweep.
func (r *Registry) Range(f func(s *ClientSession) bool) {
	r.sessions.Range(func(_, value any) bool {
		return f(value.(*ClientSession))
	})
}

// IsNetClosedError reports errors that are expected when tearing down an
// already-closed connection.
func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}
