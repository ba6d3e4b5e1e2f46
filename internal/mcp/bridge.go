// ABOUTME: Per-request session bridge: starts a fresh engine, relays one JSON-RPC exchange, tears down.
// ABOUTME: Messages are pushed only after the engine signals ready; every call ID gets an answer.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// engineShutdownTimeout bounds how long a finished exchange waits for the
// engine goroutine to exit.
const engineShutdownTimeout = 5 * time.Second

var (
	errEmptyBatch      = errors.New("empty batch")
	errEngineStart     = errors.New("engine failed to start")
	errEngineStopped   = errors.New("engine stopped before answering")
	errExchangeTimeout = errors.New("exchange timed out before answering")
	errClientCanceled  = errors.New("client went away")
	errDuplicateID     = errors.New("duplicate request id in batch")
)

// inboundBatch is a decoded POST body.
type inboundBatch struct {
	messages []jsonrpc.Message
	isBatch  bool
}

// decodeBatch parses a single JSON-RPC message or an array of them.
// Malformed JSON yields a parse error; an empty array an invalid request.
func decodeBatch(body []byte) (*inboundBatch, *JSONRPCError) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &JSONRPCError{Code: JSONRPCParseError, Message: "empty body"}
	}

	if trimmed[0] != '[' {
		msg, err := jsonrpc.DecodeMessage(trimmed)
		if err != nil {
			return nil, decodeError(trimmed, err)
		}
		return &inboundBatch{messages: []jsonrpc.Message{msg}}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, &JSONRPCError{Code: JSONRPCParseError, Message: "invalid JSON"}
	}
	if len(raws) == 0 {
		return nil, &JSONRPCError{Code: JSONRPCInvalidRequest, Message: errEmptyBatch.Error()}
	}

	batch := &inboundBatch{isBatch: true, messages: make([]jsonrpc.Message, 0, len(raws))}
	for _, raw := range raws {
		msg, err := jsonrpc.DecodeMessage(raw)
		if err != nil {
			return nil, decodeError(raw, err)
		}
		batch.messages = append(batch.messages, msg)
	}

	// Answers are matched to calls by ID, so an ID may appear only once.
	seen := make(map[string]bool)
	for _, call := range batch.calls() {
		key := idKey(call.ID)
		if seen[key] {
			return nil, &JSONRPCError{Code: JSONRPCInvalidRequest, Message: errDuplicateID.Error()}
		}
		seen[key] = true
	}
	return batch, nil
}

// decodeError distinguishes unparseable JSON from JSON that is not a
// JSON-RPC message.
func decodeError(raw []byte, err error) *JSONRPCError {
	if !json.Valid(raw) {
		return &JSONRPCError{Code: JSONRPCParseError, Message: "invalid JSON"}
	}
	return &JSONRPCError{Code: JSONRPCInvalidRequest, Message: err.Error()}
}

// calls returns the requests that expect a response, in input order.
func (b *inboundBatch) calls() []*jsonrpc.Request {
	var calls []*jsonrpc.Request
	for _, msg := range b.messages {
		if req, ok := msg.(*jsonrpc.Request); ok && req.IsCall() {
			calls = append(calls, req)
		}
	}
	return calls
}

func (b *inboundBatch) hasMethod(method string) bool {
	for _, msg := range b.messages {
		if req, ok := msg.(*jsonrpc.Request); ok && req.Method == method {
			return true
		}
	}
	return false
}

// sessionState presets the handshake the way a stateless server does, so a
// lone tools/call works without a prior initialize. Whatever the batch
// carries itself is left for the engine to process.
func (b *inboundBatch) sessionState(protocolVersion string) *mcpsdk.ServerSessionState {
	state := &mcpsdk.ServerSessionState{LogLevel: "info"}
	if !b.hasMethod("initialize") {
		state.InitializeParams = &mcpsdk.InitializeParams{ProtocolVersion: protocolVersion}
	}
	if !b.hasMethod("notifications/initialized") {
		state.InitializedParams = new(mcpsdk.InitializedParams)
	}
	return state
}

// idKey makes a map key that keeps 1 and "1" apart.
func idKey(id jsonrpc.ID) string {
	raw := id.Raw()
	return fmt.Sprintf("%T:%v", raw, raw)
}

// exchange runs one batch through a fresh engine and returns the engine's
// responses keyed by request ID. The engine never outlives the call.
func (s *Server) exchange(ctx context.Context, batch *inboundBatch, protocolVersion string) (map[string]*jsonrpc.Response, error) {
	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := time.NewTimer(s.exchangeTimeout)
	defer deadline.Stop()

	transport := newRequestTransport(len(batch.messages))
	engine := s.newEngine(engineCtx)

	var (
		session  *mcpsdk.ServerSession
		startErr error
	)
	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		if s.startHook != nil {
			s.startHook()
		}
		sess, err := s.connect(engineCtx, engine, transport, &mcpsdk.ServerSessionOptions{
			State: batch.sessionState(protocolVersion),
		})
		if err != nil {
			startErr = err
			return
		}
		session = sess
		close(ready)
		sess.Wait()
	}()

	started := false
	defer func() {
		cancel()
		transport.Close()

		// Session.Close waits for in-flight handlers, so it runs beside the
		// bounded wait rather than ahead of it.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			if started {
				session.Close()
			}
		}()

		giveUp := time.After(engineShutdownTimeout)
		for _, stopped := range []chan struct{}{done, closed} {
			select {
			case <-stopped:
			case <-giveUp:
				s.logger.Warn("MCP engine did not stop in time")
				return
			}
		}
	}()

	// ready and done are both closed by the engine goroutine, so reading
	// session or startErr afterwards is safe.
	select {
	case <-ready:
		started = true
	case <-done:
		return nil, fmt.Errorf("%w: %v", errEngineStart, startErr)
	case <-deadline.C:
		return nil, fmt.Errorf("%w: not ready after %s", errEngineStart, s.exchangeTimeout)
	case <-ctx.Done():
		return nil, errClientCanceled
	}

	for _, msg := range batch.messages {
		if err := transport.push(ctx, msg); err != nil {
			return nil, errClientCanceled
		}
	}

	pending := make(map[string]bool)
	for _, call := range batch.calls() {
		pending[idKey(call.ID)] = true
	}

	responses := make(map[string]*jsonrpc.Response, len(pending))
	collect := func(msg jsonrpc.Message) {
		resp, ok := msg.(*jsonrpc.Response)
		if !ok {
			return
		}
		key := idKey(resp.ID)
		if pending[key] {
			responses[key] = resp
			delete(pending, key)
		}
	}

	for len(pending) > 0 {
		select {
		case msg := <-transport.outbound:
			collect(msg)
		case <-done:
			// Keep anything written just before the engine stopped.
			for drained := false; !drained; {
				select {
				case msg := <-transport.outbound:
					collect(msg)
				default:
					drained = true
				}
			}
			if len(pending) == 0 {
				return responses, nil
			}
			s.logger.Warn("MCP engine stopped mid-exchange", "unanswered", len(pending))
			return responses, errEngineStopped
		case <-deadline.C:
			s.logger.Warn("MCP exchange deadline reached", "unanswered", len(pending))
			return responses, errExchangeTimeout
		case <-ctx.Done():
			return nil, errClientCanceled
		}
	}
	return responses, nil
}

// unansweredReason is the error message given to calls left without an answer.
func unansweredReason(err error) string {
	if errors.Is(err, errExchangeTimeout) {
		return errExchangeTimeout.Error()
	}
	return errEngineStopped.Error()
}

// assembleResponse encodes the engine's answers in input order. Calls the
// engine never answered get an internal error carrying reason instead of
// being dropped. It returns nil when the batch held no calls.
func (s *Server) assembleResponse(batch *inboundBatch, responses map[string]*jsonrpc.Response, reason string) ([]byte, error) {
	calls := batch.calls()
	if len(calls) == 0 {
		return nil, nil
	}

	encoded := make([]json.RawMessage, 0, len(calls))
	for _, call := range calls {
		var (
			data []byte
			err  error
		)
		if resp, ok := responses[idKey(call.ID)]; ok {
			data, err = jsonrpc.EncodeMessage(resp)
		} else {
			data, err = internalErrorFor(call.ID, reason)
		}
		if err != nil {
			return nil, fmt.Errorf("encoding response: %w", err)
		}
		encoded = append(encoded, data)
	}

	if !batch.isBatch {
		return encoded[0], nil
	}
	return json.Marshal(encoded)
}

func internalErrorFor(id jsonrpc.ID, reason string) ([]byte, error) {
	rawID, err := json.Marshal(id.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      rawID,
		Error: &JSONRPCError{
			Code:    JSONRPCInternalError,
			Message: reason,
		},
	})
}
