// Package client implements the peer-side agent: one connection shared by a
// receiver and a heartbeat sender.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
)

// Agent is a registered relay client. Two goroutines share its connection: a
// receiver that surfaces inbound frames on Messages, and a heartbeat sender
// on a fixed timer. User sends and heartbeats go through one serialized
// write path so frames never interleave on the wire.
type Agent struct {
	ID string

	conn    net.Conn
	writeMu sync.Mutex
	reader  *protocol.FrameReader
	inbox   chan *protocol.Frame

	heartbeatInterval time.Duration
	writeTimeout      time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to the relay, registers the client id and starts the
// receiver and heartbeat activities.
func Dial(addr, id string, heartbeatInterval time.Duration) (*Agent, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		ID:                id,
		conn:              conn,
		reader:            protocol.NewFrameReader(conn),
		inbox:             make(chan *protocol.Frame, 64),
		heartbeatInterval: heartbeatInterval,
		writeTimeout:      registry.DefaultWriteTimeout,
		stop:              make(chan struct{}),
	}

	if err := a.send(protocol.NewRegister(id)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.InfoF("Registered with relay at %s as %q", addr, id)

	a.wg.Add(2)
	go a.receiveLoop()
	go a.heartbeatLoop()
	return a, nil
}

// Messages surfaces inbound frames: relayed messages, drained offline
// traffic and relay error responses. The channel closes when the connection
// ends.
func (a *Agent) Messages() <-chan *protocol.Frame {
	return a.inbox
}

// Send relays a message to recipient through the server.
func (a *Agent) Send(recipient, payload string) error {
	return a.send(protocol.NewMessage(a.ID, recipient, payload))
}

// Register re-sends the registration frame, refreshing the session and
// triggering a drain of any queued traffic.
func (a *Agent) Register() error {
	return a.send(protocol.NewRegister(a.ID))
}

func (a *Agent) send(frame *protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeTimeout > 0 {
		// A relay that stopped reading fails the write instead of wedging
		// every sender behind the write lock.
		_ = a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	}
	total := 0
	for total < len(data) {
		n, err := a.conn.Write(data[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func (a *Agent) receiveLoop() {
	defer a.wg.Done()
	defer close(a.inbox)
	for {
		frame, err := a.reader.Read()
		if err != nil {
			select {
			case <-a.stop:
			default:
				logger.WarnF("[%s] Connection to relay lost, details: %v", a.ID, err)
				a.shutdown()
			}
			return
		}
		select {
		case a.inbox <- frame:
		case <-a.stop:
			return
		}
	}
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.send(protocol.NewHeartbeat(a.ID)); err != nil {
				select {
				case <-a.stop:
				default:
					logger.WarnF("[%s] Heartbeat error: %v", a.ID, err)
					a.shutdown()
				}
				return
			}
		}
	}
}

// shutdown closes the connection and signals both loops without waiting;
// closing the connection is what unblocks a receiver stuck in a read.
func (a *Agent) shutdown() {
	a.stopOnce.Do(func() {
		close(a.stop)
		if err := a.conn.Close(); err != nil && !registry.IsNetClosedError(err) {
			logger.DebugF("[%s] Error occurred while closing connection, details: %v", a.ID, err)
		}
	})
}

// Close cancels the receiver and heartbeat activities promptly and waits for
// both to exit. Neither blocks the other's cancellation.
func (a *Agent) Close() error {
	a.shutdown()
	a.wg.Wait()
	return nil
}
