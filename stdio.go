package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StdIOTransport is a line-framed Transport over an io.Reader/io.Writer pair: one
// JSON-RPC message per line, LF-terminated, flushed immediately after write. It is
// the transport a subprocess-hosted MCP server or client speaks over its own
// stdin/stdout.
type StdIOTransport struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMu sync.Mutex

	msgs      chan JSONRPCMessage
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// NewStdIOTransport wraps reader/writer as a Transport. Close stops the background
// read goroutine; it does not close reader or writer, since stdin/stdout outlive
// the transport.
func NewStdIOTransport(reader io.Reader, writer io.Writer) *StdIOTransport {
	t := &StdIOTransport{
		id:     uuid.New().String(),
		reader: reader,
		writer: writer,
		logger: slog.Default(),
		msgs:   make(chan JSONRPCMessage),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	return t
}

// Send marshals msg as a single JSON line and writes it, serialized against
// concurrent callers so two writes never interleave on the wire.
func (t *StdIOTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcp: failed to marshal message: %w", err)
	}
	bs = append(bs, '\n')

	done := make(chan error, 1)
	go func() {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		_, werr := t.writer.Write(bs)
		done <- werr
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return errTransportClosed
	}
}

// Receive starts the background line-reading goroutine and returns its output
// channels. Every call starts another reader over the same channels; the endpoint
// calls it once per transport. Blank lines are ignored; a line that fails to parse
// as JSON is logged and skipped rather than terminating the stream.
func (t *StdIOTransport) Receive(_ context.Context) (<-chan JSONRPCMessage, <-chan error) {
	go t.readLoop()
	return t.msgs, t.errs
}

func (t *StdIOTransport) readLoop() {
	defer close(t.msgs)

	reader := bufio.NewReader(t.reader)
	for {
		type lineResult struct {
			line string
			err  error
		}
		lines := make(chan lineResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			lines <- lineResult{line: strings.TrimSuffix(line, "\n"), err: err}
		}()

		var lr lineResult
		select {
		case <-t.done:
			return
		case lr = <-lines:
		}

		if lr.line != "" {
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(lr.line), &msg); err != nil {
				t.logger.Error("mcp: failed to unmarshal stdio line", "err", err)
			} else {
				select {
				case t.msgs <- msg:
				case <-t.done:
					return
				}
			}
		}

		if lr.err != nil {
			if !errors.Is(lr.err, io.EOF) {
				select {
				case t.errs <- lr.err:
				default:
				}
			}
			return
		}
	}
}

// Close stops the read loop. Safe to call more than once.
func (t *StdIOTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// StdIOServerTransport adapts a single StdIOTransport session into a ServerTransport
// that yields exactly one session from Accept, matching how a subprocess server has
// exactly one peer: whatever spawned it.
type StdIOServerTransport struct {
	transport *StdIOTransport
	accepted  bool
	mu        sync.Mutex
}

// NewStdIOServerTransport builds a ServerTransport that accepts a single session
// backed by reader/writer.
func NewStdIOServerTransport(reader io.Reader, writer io.Writer) *StdIOServerTransport {
	return &StdIOServerTransport{transport: NewStdIOTransport(reader, writer)}
}

// Accept returns the single underlying session on its first call; subsequent calls
// block until ctx is cancelled, since stdio never offers a second peer.
func (t *StdIOServerTransport) Accept(ctx context.Context) (Transport, error) {
	t.mu.Lock()
	if !t.accepted {
		t.accepted = true
		t.mu.Unlock()
		return t.transport, nil
	}
	t.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

// Shutdown closes the single session.
func (t *StdIOServerTransport) Shutdown(_ context.Context) error {
	return t.transport.Close()
}
