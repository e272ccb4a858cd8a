package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/chat"
	"github.com/bull/pdfchat/internal/index"
	"github.com/bull/pdfchat/internal/ingest"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

// Server wraps the MCP server with dependencies.
type Server struct {
	server   *mcp.Server
	composer *chat.Composer
	pipeline *ingest.Pipeline
	index    *index.Index
	logger   *zap.Logger
}

// Config holds server dependencies.
type Config struct {
	Composer *chat.Composer
	Pipeline *ingest.Pipeline
	Index    *index.Index
	Logger   *zap.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "pdfchat",
		Version: Version,
	}

	s := &Server{
		server:   mcp.NewServer(impl, nil),
		composer: cfg.Composer,
		pipeline: cfg.Pipeline,
		index:    cfg.Index,
		logger:   cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_question",
		Description: "Answer a question from the ingested PDF documents. Returns the answer and the document excerpts it was based on.",
	}, s.handleAskQuestion)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_pdf",
		Description: "Upload a base64-encoded PDF. Returns a pending status unless wait is set; poll get_ingest_status for the outcome.",
	}, s.handleIngestPDF)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_ingest_status",
		Description: "Get the ingestion status of documents by id within a namespace.",
	}, s.handleGetIngestStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "remove_document",
		Description: "Remove a document and all of its indexed chunks.",
	}, s.handleRemoveDocument)

	return s
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
