// Package router decides, per message, between live relay and
// store-and-forward.
package router

import (
	"errors"
	"fmt"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/store"
)

// ErrUnknownRecipient is returned when the recipient id has never registered
// (or was retired). The message is not queued, the sender gets an explicit
// error.
var ErrUnknownRecipient = errors.New("unknown recipient")

type Router struct {
	registry *registry.Registry
	store    store.OfflineStore
}

func New(reg *registry.Registry, st store.OfflineStore) *Router {
	return &Router{registry: reg, store: st}
}

// Route delivers one message frame: live relay to an Online recipient,
// enqueue for an Offline one. A failed live write demotes the session and
// falls through to the queue, so a message to a known recipient is never
// dropped.
func (rt *Router) Route(frame *protocol.Frame) error {
	recipient := frame.Recipient

	session, ok := rt.registry.Lookup(recipient)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
	}

	if session.Online() {
		// A non-empty backlog means queued traffic has not fully drained yet.
		// Queue behind it instead of relaying live, so the recipient never
		// sees this frame ahead of earlier ones.
		pending, perr := rt.store.Pending(recipient)
		if perr != nil {
			logger.WarnF("Fail to check offline backlog for %s, details: %v", recipient, perr)
		}
		if perr == nil && !pending {
			if err := session.Send(frame); err == nil {
				logger.DebugF("Relayed message %s from %s to %s", frame.ID, frame.Sender, recipient)
				return nil
			} else if session.MarkOffline() {
				logger.WarnF("Delivery to %s failed, session demoted, message queued, details: %v", recipient, err)
			}
		}
	}

	if err := rt.store.Append(recipient, frame); err != nil {
		return fmt.Errorf("fail to queue message for %s: %w", recipient, err)
	}
	logger.InfoF("Stored offline message for %s", recipient)

	// The recipient may have re-registered between the liveness check and
	// the append, in which case its registration drain already ran. Recheck
	// so the frame does not sit queued until the next reconnect.
	if current, ok := rt.registry.Lookup(recipient); ok && current.Online() {
		if err := rt.DeliverQueued(current); err != nil {
			logger.WarnF("Post-append drain for %s failed, details: %v", recipient, err)
		}
	}
	return nil
}

// DeliverQueued drains the recipient's offline queue and relays the frames
// in original FIFO order. The flush and the writes run under one write-lock
// hold, so no concurrently relayed frame can slip in front of queued traffic.
// A mid-drain failure demotes the session and returns the undelivered tail
// to the queue head.
func (rt *Router) DeliverQueued(session *registry.ClientSession) error {
	frames, sent, err := session.SendQueued(func() ([]*protocol.Frame, error) {
		return rt.store.Flush(session.ID)
	})
	if err != nil {
		if frames == nil {
			return fmt.Errorf("fail to drain offline queue for %s: %w", session.ID, err)
		}
		if session.MarkOffline() {
			logger.WarnF("Queued delivery to %s failed after %d frames, session demoted, details: %v", session.ID, sent, err)
		}
		if rqErr := rt.store.Requeue(session.ID, frames[sent:]); rqErr != nil {
			logger.ErrorF("Fail to requeue %d frames for %s, details: %v", len(frames)-sent, session.ID, rqErr)
		}
		return fmt.Errorf("fail to deliver queued messages to %s: %w", session.ID, err)
	}

	if len(frames) > 0 {
		logger.InfoF("Delivered %d queued messages to %s", len(frames), session.ID)
	}
	return nil
}
