package store

import (
	"sync"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// memoryQueue holds one recipient's pending frames. A queue that has been
// drained is marked dead before it leaves the map so a racing Append never
// lands on an orphaned queue.
type memoryQueue struct {
	mu     sync.Mutex
	frames []*protocol.Frame
	dead   bool
}

// MemoryStore keeps offline queues in process memory. Queues for distinct
// recipients live in a sync.Map and carry their own mutex, so appends and
// flushes for different recipients never contend.
type MemoryStore struct {
	queues sync.Map // recipient id -> *memoryQueue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Append(recipient string, frame *protocol.Frame) error {
	for {
		value, _ := ms.queues.LoadOrStore(recipient, &memoryQueue{})
		q := value.(*memoryQueue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		q.frames = append(q.frames, frame)
		q.mu.Unlock()
		return nil
	}
}

func (ms *MemoryStore) Flush(recipient string) ([]*protocol.Frame, error) {
	value, ok := ms.queues.Load(recipient)
	if !ok {
		return nil, nil
	}
	q := value.(*memoryQueue)

	q.mu.Lock()
	frames := q.frames
	q.frames = nil
	q.dead = true
	q.mu.Unlock()

	ms.queues.CompareAndDelete(recipient, q)
	return frames, nil
}

func (ms *MemoryStore) Requeue(recipient string, frames []*protocol.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	for {
		value, _ := ms.queues.LoadOrStore(recipient, &memoryQueue{})
		q := value.(*memoryQueue)
		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		head := make([]*protocol.Frame, 0, len(frames)+len(q.frames))
		head = append(head, frames...)
		q.frames = append(head, q.frames...)
		q.mu.Unlock()
		return nil
	}
}

func (ms *MemoryStore) Pending(recipient string) (bool, error) {
	value, ok := ms.queues.Load(recipient)
	if !ok {
		return false, nil
	}
	q := value.(*memoryQueue)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) > 0, nil
}
