// Package store implements the offline message store: a per-recipient FIFO
// queue of undelivered frames behind a swappable backing. The router never
// knows which backing is active.
package store

import (
	"context"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/config"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/event"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// OfflineStore is the store-and-forward queue. Ordering is FIFO per
// recipient and Flush is an atomic all-or-nothing drain, regardless of
// backing.
type OfflineStore interface {
	// Append adds the frame to the tail of the recipient's queue, creating
	// the queue lazily.
	Append(recipient string, frame *protocol.Frame) error
	// Flush atomically drains and clears the recipient's queue, returning
	// the frames in original append order. Empty result if none pending.
	Flush(recipient string) ([]*protocol.Frame, error)
	// Requeue returns frames to the head of the recipient's queue in order,
	// used when a drain fails mid-delivery.
	Requeue(recipient string, frames []*protocol.Frame) error
	// Pending reports whether the recipient has queued frames.
	Pending(recipient string) (bool, error)
}

type closer interface {
	Close() error
}

type storeCloseCallback struct {
	c closer
}

func (sc *storeCloseCallback) Invoke(ctx context.Context) error {
	logger.Info("Closing offline store backing")
	return sc.c.Close()
}

// NewOfflineStore builds the backing selected by the config. A durable
// backing that cannot be reached at startup degrades to in-memory storage so
// the relay stays available; the degradation is logged once here.
func NewOfflineStore(cfg config.Config) OfflineStore {
	switch cfg.Store.Backing {
	case config.StoreBackingMemory, "":
		return NewMemoryStore()
	case config.StoreBackingRedis:
		rs, err := NewRedisStore(cfg)
		if err != nil {
			logger.ErrorF("Redis offline store unavailable, falling back to in-memory storage, details: %v", err)
			return NewMemoryStore()
		}
		event.NewCleaner().Add(&storeCloseCallback{c: rs})
		logger.Info("Using Redis for offline message storage")
		return NewFallbackStore(rs)
	case config.StoreBackingMongo:
		ms, err := NewMongoStore(cfg)
		if err != nil {
			logger.ErrorF("MongoDB offline store unavailable, falling back to in-memory storage, details: %v", err)
			return NewMemoryStore()
		}
		event.NewCleaner().Add(&storeCloseCallback{c: ms})
		logger.Info("Using MongoDB for offline message storage")
		return NewFallbackStore(ms)
	default:
		logger.WarnF("Unknown offline store backing %q, using in-memory storage", cfg.Store.Backing)
		return NewMemoryStore()
	}
}
