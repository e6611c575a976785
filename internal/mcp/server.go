// Package mcp exposes the sorry database to external proving agents as
// Model Context Protocol tools over JSON-RPC.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

// Verifier checks a proof against the checkout of a stored sorry.
type Verifier interface {
	VerifySorry(ctx context.Context, x domain.Sorry, proof string) (domain.VerifyResult, error)
}

// Server implements the Model Context Protocol (MCP) server.
type Server struct {
	store    port.SorryStore
	dedup    *service.DedupService
	verifier Verifier
	port     string
}

// NewServer creates a new MCP server.
func NewServer(store port.SorryStore, dedup *service.DedupService, verifier Verifier, port string) *Server {
	return &Server{store: store, dedup: dedup, verifier: verifier, port: port}
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start serves on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("MCP server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "parse error")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "sorrydb",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, codeMethodNotFound, "method not found")
		return
	}

	if err != nil {
		slog.Warn("MCP tool call failed", "error", err)
		writeError(w, req.ID, codeInternalError, err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	<-r.Context().Done()
}

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "list_sorries",
			Description: "List open sorries, one per distinct goal, optionally filtered by repository or goal text",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"repo": {"type": "string", "description": "Remote URL of the repository"},
					"goal": {"type": "string", "description": "Substring of the goal"},
					"limit": {"type": "integer", "description": "Maximum number of sorries (default 20)"}
				}
			}`),
		},
		{
			Name:        "get_sorry",
			Description: "Return one sorry with its location, goal and provenance",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Sorry ID"}
				},
				"required": ["id"]
			}`),
		},
		{
			Name:        "verify_proof",
			Description: "Check whether a proof can replace a sorry in its original checkout",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"sorry_id": {"type": "string", "description": "Sorry ID"},
					"proof": {"type": "string", "description": "Replacement text for the sorry"}
				},
				"required": ["sorry_id", "proof"]
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if len(req.Arguments) == 0 {
		req.Arguments = json.RawMessage(`{}`)
	}

	switch req.Name {
	case "list_sorries":
		var args struct {
			Repo  string `json:"repo"`
			Goal  string `json:"goal"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if args.Limit <= 0 {
			args.Limit = 20
		}
		doc, err := s.dedup.Query(ctx, 0)
		if err != nil {
			return nil, err
		}
		out := []domain.Sorry{}
		for _, x := range doc.Sorries {
			if args.Repo != "" && x.Repo.Remote != args.Repo {
				continue
			}
			if args.Goal != "" && !strings.Contains(x.DebugInfo.Goal, args.Goal) {
				continue
			}
			out = append(out, x)
			if len(out) == args.Limit {
				break
			}
		}
		return textResult(out)

	case "get_sorry":
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		x, err := s.store.GetSorry(ctx, args.ID)
		if err != nil {
			return nil, err
		}
		return textResult(x)

	case "verify_proof":
		var args struct {
			SorryID string `json:"sorry_id"`
			Proof   string `json:"proof"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if args.Proof == "" {
			return nil, errors.New("proof is required")
		}
		x, err := s.store.GetSorry(ctx, args.SorryID)
		if err != nil {
			return nil, err
		}
		res, err := s.verifier.VerifySorry(ctx, *x, args.Proof)
		if err != nil {
			return nil, err
		}
		return textResult(res)

	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Name)
	}
}

// textResult wraps v as the JSON text content of a tool result.
func textResult(v any) (any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(data)},
		},
	}, nil
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
