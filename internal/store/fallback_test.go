package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

var errBackingDown = errors.New("backing unreachable")

// brokenStore fails every operation, standing in for an unreachable durable
// backing.
type brokenStore struct{}

func (brokenStore) Append(string, *protocol.Frame) error    { return errBackingDown }
func (brokenStore) Flush(string) ([]*protocol.Frame, error) { return nil, errBackingDown }
func (brokenStore) Requeue(string, []*protocol.Frame) error { return errBackingDown }
func (brokenStore) Pending(string) (bool, error)            { return false, errBackingDown }

func TestFallbackStoreDegradesWithoutLosingFrames(t *testing.T) {
	fs := NewFallbackStore(brokenStore{})
	assert.False(t, fs.Degraded())

	// The append whose durable write failed must still land in memory.
	require.NoError(t, fs.Append("bob", protocol.NewMessage("alice", "bob", "hi")))
	assert.True(t, fs.Degraded())

	require.NoError(t, fs.Append("bob", protocol.NewMessage("alice", "bob", "hi2")))

	frames, err := fs.Flush("bob")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "hi", frames[0].Payload)
	assert.Equal(t, "hi2", frames[1].Payload)
}

func TestFallbackStoreUsesPrimaryWhileHealthy(t *testing.T) {
	primary := NewMemoryStore()
	fs := NewFallbackStore(primary)

	require.NoError(t, fs.Append("bob", protocol.NewMessage("alice", "bob", "hi")))
	assert.False(t, fs.Degraded())

	pending, err := primary.Pending("bob")
	require.NoError(t, err)
	assert.True(t, pending)

	frames, err := fs.Flush("bob")
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}
