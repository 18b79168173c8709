package protocol

import (
	"bufio"
	"errors"
	"io"
)

// MaxFrameSize bounds a single frame on the wire. Anything longer is a
// protocol error, not a resize.
const MaxFrameSize = 64 * 1024

// FrameReader decodes newline-delimited frames from a stream connection.
type FrameReader struct {
	scanner *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &FrameReader{scanner: scanner}
}

// Read blocks until the next frame arrives and returns it decoded. Blank
// lines are skipped. Returns io.EOF on orderly stream end, a ProtocolError
// on malformed or oversized input, and the underlying error otherwise.
func (fr *FrameReader) Read() (*Frame, error) {
	for {
		if !fr.scanner.Scan() {
			if err := fr.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					return nil, &ProtocolError{Reason: "frame exceeds maximum size"}
				}
				return nil, err
			}
			return nil, io.EOF
		}
		line := fr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Decode(line)
	}
}
