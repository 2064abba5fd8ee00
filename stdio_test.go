package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

func TestStdIOTransportSendFramesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	transport := NewStdIOTransport(io.NopCloser(&bytes.Buffer{}), &buf)

	id := NewRequestID(1)
	msg := JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: &id, Method: MethodPing}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := transport.Send(ctx, msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	line := buf.String()
	if len(line) == 0 || line[len(line)-1] != '\n' {
		t.Fatalf("expected LF-terminated line, got %q", line)
	}

	var got JSONRPCMessage
	if err := json.Unmarshal(buf.Bytes()[:len(line)-1], &got); err != nil {
		t.Fatalf("failed to unmarshal written line: %v", err)
	}
	if got.Method != MethodPing {
		t.Errorf("got method %q, want %q", got.Method, MethodPing)
	}
}

func TestStdIOTransportReceiveSkipsBlankLines(t *testing.T) {
	input := "\n" + `{"jsonrpc":"2.0","method":"ping"}` + "\n\n"
	transport := NewStdIOTransport(io.NopCloser(bytes.NewBufferString(input)), io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, errs := transport.Receive(ctx)

	select {
	case msg, ok := <-msgs:
		if !ok {
			t.Fatal("channel closed before delivering message")
		}
		if msg.Method != MethodPing {
			t.Errorf("got method %q, want %q", msg.Method, MethodPing)
		}
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestStdIOServerTransportAcceptsSingleSession(t *testing.T) {
	transport := NewStdIOServerTransport(io.NopCloser(&bytes.Buffer{}), io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := transport.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if first == nil {
		t.Fatal("Accept() returned nil session")
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if _, err := transport.Accept(shortCtx); err == nil {
		t.Error("expected second Accept() to block until context is done")
	}
}
