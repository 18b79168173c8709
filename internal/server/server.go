// Package server accepts client connections and feeds decoded frames into
// the registry and router.
package server

import (
	"context"
	"net"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/router"
)

// sem bounds the number of concurrently handled connections.
var sem = make(chan struct{}, 10000)

type Server struct {
	registry         *registry.Registry
	router           *router.Router
	heartbeatTimeout time.Duration
	ln               net.Listener
}

func NewServer(reg *registry.Registry, rt *router.Router, heartbeatTimeout time.Duration) *Server {
	return &Server{
		registry:         reg,
		router:           rt,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Listen binds addr and runs the accept loop until the listener is closed.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve blocks on the accept loop of an already-bound listener. Each
// accepted connection gets an independent handler goroutine; nothing they do
// can abort the loop.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	logger.InfoF("Relay server listening on %s", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if registry.IsNetClosedError(err) {
				return nil
			}
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		sem <- struct{}{}
		go func(c net.Conn) {
			handler := newConnectionHandler(c, s.registry, s.router, s.heartbeatTimeout)
			handler.handleConnection()
			<-sem
		}(conn)
	}
}

// Addr returns the bound address once Listen has started.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Invoke closes the listener during shutdown. Open connections are closed by
// their handlers when reads fail; no further draining is attempted.
func (s *Server) Invoke(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	logger.Info("Closing relay listener")
	return s.ln.Close()
}
