// ABOUTME: MCP HTTP endpoint: unauthenticated discovery on GET, authenticated JSON-RPC on POST.
// ABOUTME: Each POST is served by a fresh engine through the per-request session bridge.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/jesseverse/internal/auth"
)

// ServerName is the name advertised to MCP clients.
const ServerName = "jesseverse"

// ServerDescription is the one-line description returned on GET /mcp.
const ServerDescription = "Personal hub of HTTP extensions. Call list_extensions to discover actions, then use to run them."

// LatestProtocolVersion is the version advertised on GET and assumed for
// stateless exchanges that carry no handshake.
const LatestProtocolVersion = "2025-06-18"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultExchangeTimeout bounds one POST from engine start to the last
// answer. It sits above the default extension execute timeout.
const DefaultExchangeTimeout = 45 * time.Second

const instructions = "Call list_extensions first to see every registered extension, " +
	"its actions and their parameters. Then call use with the extension name, " +
	"the action name and a parameters object."

// JSON-RPC 2.0 types

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// ToolRegistrar installs tools on a freshly built engine.
type ToolRegistrar interface {
	Register(server *mcpsdk.Server)
}

// Config holds configuration for the MCP server.
type Config struct {
	Tools    ToolRegistrar
	Verifier auth.CredentialVerifier
	Version  string
	Logger   *slog.Logger

	// ExchangeTimeout caps how long one POST waits for the engine; calls
	// still unanswered then get an internal error. Zero uses the default.
	ExchangeTimeout time.Duration
}

// Server implements the MCP endpoint. It keeps no sessions: every POST is
// one self-contained exchange.
type Server struct {
	tools           ToolRegistrar
	verifier        auth.CredentialVerifier
	version         string
	logger          *slog.Logger
	exchangeTimeout time.Duration

	// startHook runs in the engine goroutine before it connects. Tests use
	// it to delay readiness.
	startHook func()

	// connect starts the engine session; tests replace it to fail startup.
	connect func(ctx context.Context, engine *mcpsdk.Server, t mcpsdk.Transport, opts *mcpsdk.ServerSessionOptions) (*mcpsdk.ServerSession, error)
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tools are required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("credential verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	exchangeTimeout := cfg.ExchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = DefaultExchangeTimeout
	}

	return &Server{
		tools:           cfg.Tools,
		verifier:        cfg.Verifier,
		version:         version,
		logger:          logger.With("component", "mcp"),
		exchangeTimeout: exchangeTimeout,
		connect:         connectEngine,
	}, nil
}

func connectEngine(ctx context.Context, engine *mcpsdk.Server, t mcpsdk.Transport, opts *mcpsdk.ServerSessionOptions) (*mcpsdk.ServerSession, error) {
	return engine.Connect(ctx, t, opts)
}

// Handler returns the /mcp handler wrapped in the bearer gate.
func (s *Server) Handler() http.Handler {
	return auth.BearerGate(s.verifier)(http.HandlerFunc(s.handleMCP))
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/mcp", s.Handler())
}

// newEngine builds the MCP engine for one exchange. Tool handlers run with
// a context that ends when reqCtx does and carries the caller's identity.
// The bridge passes a context that also ends when the exchange gives up.
func (s *Server) newEngine(reqCtx context.Context) *mcpsdk.Server {
	engine := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: s.version,
	}, &mcpsdk.ServerOptions{
		Instructions: instructions,
	})
	engine.AddReceivingMiddleware(bindRequest(reqCtx))
	s.tools.Register(engine)
	return engine
}

// bindRequest ties handler contexts to the HTTP request so a client
// disconnect cancels in-flight extension calls.
func bindRequest(reqCtx context.Context) mcpsdk.Middleware {
	authCtx := auth.FromContext(reqCtx)
	return func(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
		return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(reqCtx, cancel)
			defer stop()

			if authCtx != nil {
				ctx = auth.WithAuth(ctx, authCtx)
			}
			return next(ctx, method, req)
		}
	}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleInfo(w, r)
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleInfo answers discovery probes without touching the engine.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"name":            ServerName,
		"description":     ServerDescription,
		"protocolVersion": LatestProtocolVersion,
	})
}

// handlePost relays one JSON-RPC message or batch through a fresh engine.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	batch, rpcErr := decodeBatch(body)
	if rpcErr != nil {
		s.sendJSONRPCError(w, nil, rpcErr.Code, rpcErr.Message)
		return
	}

	protocolVersion := r.Header.Get("Mcp-Protocol-Version")
	if protocolVersion == "" {
		protocolVersion = LatestProtocolVersion
	}

	logger := s.logger.With("request_id", uuid.NewString())
	started := time.Now()
	logger.Debug("MCP request",
		"messages", len(batch.messages),
		"calls", len(batch.calls()),
		"batch", batch.isBatch,
	)

	responses, err := s.exchange(r.Context(), batch, protocolVersion)
	switch {
	case errors.Is(err, errClientCanceled):
		logger.Debug("MCP client went away mid-exchange")
		return
	case errors.Is(err, errEngineStart):
		logger.Error("MCP engine failed to start", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	case errors.Is(err, errExchangeTimeout):
		logger.Warn("MCP exchange timed out", "timeout", s.exchangeTimeout)
	case err != nil && !errors.Is(err, errEngineStopped):
		logger.Error("MCP exchange failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	payload, err := s.assembleResponse(batch, responses, unansweredReason(err))
	if err != nil {
		logger.Error("failed to assemble MCP response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if payload == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		logger.Warn("failed to write MCP response", "error", err)
		return
	}
	logger.Debug("MCP response sent", "duration", time.Since(started))
}

// sendJSONRPCError sends a JSON-RPC error response with a null ID.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
