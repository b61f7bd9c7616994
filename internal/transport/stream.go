package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/session"
	"github.com/beads-village/village/internal/village"
)

// Stream serves the protocol over a line-delimited byte stream, one request
// per line, strictly in arrival order. The output stream carries only
// responses; logging goes to stderr.
type Stream struct {
	srv *village.Server
	in  io.Reader
	out io.Writer
}

// NewStream returns a stream transport reading requests from in and writing
// newline-terminated responses to out.
func NewStream(srv *village.Server, in io.Reader, out io.Writer) *Stream {
	return &Stream{srv: srv, in: in, out: out}
}

// Run processes requests until the input stream ends. The client owns
// cancellation: closing the stream ends the loop with a nil error.
func (s *Stream) Run(ctx context.Context) error {
	ctx = WithKind(ctx, KindStdio)
	conn := session.NewConnectionID()
	log.WithFields(log.Fields{"conn": conn, "agent": s.srv.Agent()}).Info("stream transport ready")

	reader := bufio.NewReader(s.in)
	writer := bufio.NewWriter(s.out)

	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if resp := handleRaw(ctx, s.srv, trimmed); resp != nil {
				if werr := writeLine(writer, encode(resp)); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.WithField("conn", conn).Debug("stream closed")
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			log.WithField("conn", conn).Debug("stream canceled")
			return nil
		}
	}
}

// writeLine emits one newline-terminated response and flushes so the client
// never waits on a buffered reply.
func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
