package mcp

import (
	"context"
	"sync"
)

// InMemoryTransportPair is a pair of connected Transports with no serialization in
// between: messages sent on one side are delivered to the other by value. It is
// the transport used to pair a Client and Server in the same process, typically in
// tests, without going through stdio or HTTP framing.
//
// Closing one side ends only that side's Receive sequence; the peer's sequence does
// not end until the peer itself is closed.
type InMemoryTransportPair struct {
	Client Transport
	Server Transport
}

// NewInMemoryTransportPair builds two Transports, each other's peer.
func NewInMemoryTransportPair() InMemoryTransportPair {
	aToB := make(chan JSONRPCMessage, 32)
	bToA := make(chan JSONRPCMessage, 32)

	a := &inMemoryTransport{send: aToB, recv: bToA, errs: make(chan error, 1), done: make(chan struct{})}
	b := &inMemoryTransport{send: bToA, recv: aToB, errs: make(chan error, 1), done: make(chan struct{})}

	return InMemoryTransportPair{Client: a, Server: b}
}

type inMemoryTransport struct {
	send chan JSONRPCMessage
	recv chan JSONRPCMessage
	errs chan error
	done chan struct{}
	once sync.Once
}

func (t *inMemoryTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case t.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return errTransportClosed
	}
}

func (t *inMemoryTransport) Receive(_ context.Context) (<-chan JSONRPCMessage, <-chan error) {
	out := make(chan JSONRPCMessage)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-t.recv:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-t.done:
					return
				}
			case <-t.done:
				return
			}
		}
	}()
	return out, t.errs
}

func (t *inMemoryTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

// InMemoryServerTransport adapts a channel of pre-built Transports (typically fed by
// NewInMemoryTransportPair, one pair per simulated client) into a ServerTransport,
// for tests that exercise Server.Serve without a real listener.
type InMemoryServerTransport struct {
	incoming chan Transport
	done     chan struct{}
	once     sync.Once
}

// NewInMemoryServerTransport builds an InMemoryServerTransport. Feed it sessions
// with Offer.
func NewInMemoryServerTransport() *InMemoryServerTransport {
	return &InMemoryServerTransport{
		incoming: make(chan Transport, 8),
		done:     make(chan struct{}),
	}
}

// Offer makes transport available to the next Accept call.
func (t *InMemoryServerTransport) Offer(transport Transport) {
	select {
	case t.incoming <- transport:
	case <-t.done:
	}
}

func (t *InMemoryServerTransport) Accept(ctx context.Context) (Transport, error) {
	select {
	case transport := <-t.incoming:
		return transport, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, errTransportClosed
	}
}

func (t *InMemoryServerTransport) Shutdown(_ context.Context) error {
	t.once.Do(func() { close(t.done) })
	return nil
}
