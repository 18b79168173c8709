package server

import (
	"errors"
	"net"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/router"
)

// readSlack is added on top of the heartbeat timeout for read deadlines, so
// the monitor demotes a silent session before its reads time out.
const readSlack = 10 * time.Second

// connectionHandler owns one client connection from accept to close. The
// first frame must be a registration; everything after flows through the
// registry and router, which are the only state shared between handlers.
type connectionHandler struct {
	conn     net.Conn
	connID   string
	reader   *protocol.FrameReader
	registry *registry.Registry
	router   *router.Router
	timeout  time.Duration

	clientID string
	session  *registry.ClientSession
}

func newConnectionHandler(conn net.Conn, reg *registry.Registry, rt *router.Router, timeout time.Duration) *connectionHandler {
	return &connectionHandler{
		conn:     conn,
		connID:   conn.RemoteAddr().String(),
		reader:   protocol.NewFrameReader(conn),
		registry: reg,
		router:   rt,
		timeout:  timeout,
	}
}

func (c *connectionHandler) handleConnection() {
	defer func() {
		if c.session != nil && c.session.MarkOffline() {
			logger.InfoF("[%s] Connection lost, client %s marked offline", c.connID, c.clientID)
		}
		logger.DebugF("[%s] Connection closed", c.connID)
		if err := c.conn.Close(); err != nil && !registry.IsNetClosedError(err) {
			logger.WarnF("[%s] Error occurred while closing connection, details: %v", c.connID, err)
		}
	}()

	if err := c.handleFirstFrame(); err != nil {
		return
	}

	c.handleFrames()
}

// handleFirstFrame enforces the register-first rule.
func (c *connectionHandler) handleFirstFrame() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Minute))
	frame, err := c.reader.Read()
	if err != nil {
		logger.WarnF("[%s] Fail to read first frame, details: %v", c.connID, err)
		return err
	}

	if frame.Action != protocol.ActionRegister {
		logger.ErrorF("[%s] Invalid first frame, expected %s frame, but got %s frame", c.connID, protocol.ActionRegister, frame.Action)
		return &protocol.ProtocolError{Reason: "registration required before " + string(frame.Action)}
	}

	c.register(frame)
	return nil
}

// register binds the connection to its client id and drains any traffic
// queued while the client was away.
func (c *connectionHandler) register(frame *protocol.Frame) {
	c.clientID = frame.Sender
	c.session = c.registry.Register(c.clientID, c.conn)
	c.session.Touch(time.Now())
	logger.InfoF("[%s] Registered client %q", c.connID, c.clientID)

	if err := c.router.DeliverQueued(c.session); err != nil {
		logger.WarnF("[%s] Fail to deliver queued messages to %s, details: %v", c.connID, c.clientID, err)
	}
}

func (c *connectionHandler) handleFrames() {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout + readSlack))

		frame, err := c.reader.Read()
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				logger.ErrorF("[%s] %v, closing connection", c.connID, perr)
			} else {
				handleReadError(c.connID, err)
			}
			return
		}

		logger.DebugF("[%s] Receive %s frame from %s", c.connID, frame.Action, frame.Sender)

		if frame.Sender != c.clientID {
			logger.ErrorF("[%s] Frame sender %q does not match registered client %q", c.connID, frame.Sender, c.clientID)
			return
		}

		switch frame.Action {
		case protocol.ActionRegister:
			// Re-registration on the same connection refreshes the session.
			c.session.Touch(time.Now())
			if err := c.router.DeliverQueued(c.session); err != nil {
				logger.WarnF("[%s] Fail to deliver queued messages to %s, details: %v", c.connID, c.clientID, err)
			}
		case protocol.ActionHeartbeat:
			c.session.Touch(time.Now())
		case protocol.ActionMessage:
			c.handleMessage(frame)
		default:
			logger.ErrorF("[%s] %s frame is not accepted from clients", c.connID, frame.Action)
			return
		}
	}
}

func (c *connectionHandler) handleMessage(frame *protocol.Frame) {
	err := c.router.Route(frame)
	if err == nil {
		return
	}

	if errors.Is(err, router.ErrUnknownRecipient) {
		logger.WarnF("[%s] Message %s rejected: %v", c.connID, frame.ID, err)
		if sendErr := c.session.Send(protocol.NewError(c.clientID, err.Error(), frame.ID)); sendErr != nil {
			logger.WarnF("[%s] Fail to send error frame, details: %v", c.connID, sendErr)
		}
		return
	}

	// Queueing failed outright; the sender keeps its connection, the
	// failure is reported back.
	logger.ErrorF("[%s] Fail to route message %s, details: %v", c.connID, frame.ID, err)
	if sendErr := c.session.Send(protocol.NewError(c.clientID, "delivery failed, try again", frame.ID)); sendErr != nil {
		logger.WarnF("[%s] Fail to send error frame, details: %v", c.connID, sendErr)
	}
}
