package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

func TestMemoryStoreFIFOOrder(t *testing.T) {
	ms := NewMemoryStore()

	for i := 0; i < 10; i++ {
		require.NoError(t, ms.Append("bob", protocol.NewMessage("alice", "bob", fmt.Sprintf("msg-%d", i))))
	}

	frames, err := ms.Flush("bob")
	require.NoError(t, err)
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), f.Payload)
	}
}

func TestMemoryStoreFlushClearsQueue(t *testing.T) {
	ms := NewMemoryStore()
	require.NoError(t, ms.Append("bob", protocol.NewMessage("alice", "bob", "hi")))

	pending, err := ms.Pending("bob")
	require.NoError(t, err)
	assert.True(t, pending)

	frames, err := ms.Flush("bob")
	require.NoError(t, err)
	assert.Len(t, frames, 1)

	pending, err = ms.Pending("bob")
	require.NoError(t, err)
	assert.False(t, pending)

	frames, err = ms.Flush("bob")
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestMemoryStoreFlushUnknownRecipientIsEmpty(t *testing.T) {
	ms := NewMemoryStore()
	frames, err := ms.Flush("nobody")
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestMemoryStoreRequeuePrepends(t *testing.T) {
	ms := NewMemoryStore()
	require.NoError(t, ms.Append("bob", protocol.NewMessage("alice", "bob", "new")))
	require.NoError(t, ms.Requeue("bob", []*protocol.Frame{
		protocol.NewMessage("alice", "bob", "old-1"),
		protocol.NewMessage("alice", "bob", "old-2"),
	}))

	frames, err := ms.Flush("bob")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "old-1", frames[0].Payload)
	assert.Equal(t, "old-2", frames[1].Payload)
	assert.Equal(t, "new", frames[2].Payload)
}

func TestMemoryStoreConcurrentAppendAndFlushLosesNothing(t *testing.T) {
	ms := NewMemoryStore()
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = ms.Append("bob", protocol.NewMessage(fmt.Sprintf("sender-%d", w), "bob", fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}

	// Drain concurrently with the appends; every frame must land in exactly
	// one drain and per-sender order must survive.
	collected := make([]*protocol.Frame, 0, writers*perWriter)
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for i := 0; i < 200; i++ {
			frames, err := ms.Flush("bob")
			if err != nil {
				t.Errorf("flush: %v", err)
				return
			}
			collected = append(collected, frames...)
		}
	}()

	wg.Wait()
	<-flusherDone

	rest, err := ms.Flush("bob")
	require.NoError(t, err)
	collected = append(collected, rest...)
	assert.Len(t, collected, writers*perWriter)

	lastSeen := map[string]int{}
	for _, f := range collected {
		var w, i int
		_, err := fmt.Sscanf(f.Payload, "%d-%d", &w, &i)
		require.NoError(t, err)
		if prev, ok := lastSeen[f.Sender]; ok {
			assert.Greater(t, i, prev, "out of order for %s", f.Sender)
		}
		lastSeen[f.Sender] = i
	}
}
