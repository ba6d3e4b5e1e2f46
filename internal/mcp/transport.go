// ABOUTME: In-process MCP transport connecting one HTTP exchange to one engine session.
// ABOUTME: A channel pair carries JSON-RPC messages; closing it ends the session with io.EOF.

package mcp

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// errTransportClosed is returned by writes after the exchange has finished.
var errTransportClosed = errors.New("request transport closed")

// requestTransport is both the Transport handed to the engine and the
// Connection it returns. It lives for exactly one HTTP request.
type requestTransport struct {
	inbound   chan jsonrpc.Message // client -> engine
	outbound  chan jsonrpc.Message // engine -> client
	closed    chan struct{}
	closeOnce sync.Once
}

func newRequestTransport(batchSize int) *requestTransport {
	return &requestTransport{
		inbound:  make(chan jsonrpc.Message, batchSize),
		outbound: make(chan jsonrpc.Message, batchSize+1),
		closed:   make(chan struct{}),
	}
}

// Connect implements mcpsdk.Transport.
func (t *requestTransport) Connect(ctx context.Context) (mcpsdk.Connection, error) {
	return t, nil
}

// Read blocks until the relay pushes a message or the exchange ends.
func (t *requestTransport) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-t.inbound:
		return msg, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write hands an engine message to the relay. Nothing is accepted once the
// transport is closed, even if the outbound buffer has room.
func (t *requestTransport) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	select {
	case t.outbound <- msg:
		return nil
	case <-t.closed:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the exchange. Safe to call more than once.
func (t *requestTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// SessionID is empty: every exchange is stateless.
func (t *requestTransport) SessionID() string {
	return ""
}

// push delivers a client message to the engine.
func (t *requestTransport) push(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case t.inbound <- msg:
		return nil
	case <-t.closed:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ mcpsdk.Transport  = (*requestTransport)(nil)
	_ mcpsdk.Connection = (*requestTransport)(nil)
)
