package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Use for simple tool servers
	// that don't need server-to-client requests. Default: false (stateful).
	Stateless bool
	// JSONResponse answers with application/json instead of an event stream.
	// Useful for clients that cannot read SSE. Default: false.
	JSONResponse bool
}

// NewHTTPHandler creates an HTTP handler for the MCP server using Streamable HTTP transport.
// Mount it next to the REST routes:
//
//	mux := http.NewServeMux()
//	api.Register(mux)
//	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	// Nil options mean stateful sessions with streamed responses
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	// Map our options onto the SDK transport options
	sdkOpts := &mcp.StreamableHTTPOptions{
		Stateless:    opts.Stateless,
		JSONResponse: opts.JSONResponse,
	}

	// Every request is served by the same MCP server; per-tenant state travels in tool
	// inputs (namespace, session_id), not in the transport session
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, sdkOpts)
}
