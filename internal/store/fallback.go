package store

import (
	"sync"
	"sync/atomic"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// FallbackStore wraps a durable backing and degrades to in-memory storage on
// the first failed operation, so relay availability never depends on the
// backing. The degradation is logged exactly once; the failed operation is
// retried against memory so no frame is lost with it.
type FallbackStore struct {
	primary  OfflineStore
	memory   *MemoryStore
	degraded atomic.Bool
	logOnce  sync.Once
}

func NewFallbackStore(primary OfflineStore) *FallbackStore {
	return &FallbackStore{
		primary: primary,
		memory:  NewMemoryStore(),
	}
}

// Degraded reports whether the store has switched to in-memory backing.
func (fs *FallbackStore) Degraded() bool {
	return fs.degraded.Load()
}

func (fs *FallbackStore) degrade(err error) {
	fs.degraded.Store(true)
	fs.logOnce.Do(func() {
		logger.ErrorF("Offline store backing failed, continuing with in-memory storage, details: %v", err)
	})
}

func (fs *FallbackStore) Append(recipient string, frame *protocol.Frame) error {
	if !fs.degraded.Load() {
		if err := fs.primary.Append(recipient, frame); err == nil {
			return nil
		} else {
			fs.degrade(err)
		}
	}
	return fs.memory.Append(recipient, frame)
}

func (fs *FallbackStore) Flush(recipient string) ([]*protocol.Frame, error) {
	if !fs.degraded.Load() {
		frames, err := fs.primary.Flush(recipient)
		if err == nil {
			// Frames appended after a degradation was observed by another
			// goroutine may sit in memory; pick them up too.
			extra, _ := fs.memory.Flush(recipient)
			return append(frames, extra...), nil
		}
		fs.degrade(err)
	}
	return fs.memory.Flush(recipient)
}

func (fs *FallbackStore) Requeue(recipient string, frames []*protocol.Frame) error {
	if !fs.degraded.Load() {
		if err := fs.primary.Requeue(recipient, frames); err == nil {
			return nil
		} else {
			fs.degrade(err)
		}
	}
	return fs.memory.Requeue(recipient, frames)
}

func (fs *FallbackStore) Pending(recipient string) (bool, error) {
	if !fs.degraded.Load() {
		pending, err := fs.primary.Pending(recipient)
		if err == nil {
			if pending {
				return true, nil
			}
			return fs.memory.Pending(recipient)
		}
		fs.degrade(err)
	}
	return fs.memory.Pending(recipient)
}
