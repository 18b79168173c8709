package server

import (
	"errors"
	"io"
	"os"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
)

func handleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	default:
		logger.ErrorF("[%s] Error occurred while reading frame, details: %v", connID, err)
	}
}
