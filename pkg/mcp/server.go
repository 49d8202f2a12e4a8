package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/gnana997/sasspipe/pkg/runlog"
	"github.com/gnana997/sasspipe/pkg/sass"
)

const serverVersion = "0.1.0-dev"

// Server implements the MCP server for sasspipe, exposing compile and
// inspection tools.
type Server struct {
	mcpServer *server.MCPServer
	defaults  sass.Options
	logger    *runlog.Logger // nil disables tool-call logging
}

// NewServer creates a new MCP server. defaults seed every compile; tool
// arguments override them. logger may be nil.
func NewServer(defaults sass.Options, logger *runlog.Logger) *Server {
	s := &Server{defaults: defaults, logger: logger}

	opts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	if logger != nil {
		opts = append(opts, server.WithToolHandlerMiddleware(s.loggingMiddleware()))
	}

	s.mcpServer = server.NewMCPServer("sasspipe", serverVersion, opts...)

	s.mcpServer.AddTools(
		server.ServerTool{Tool: compileTool(), Handler: s.handleCompile},
		server.ServerTool{Tool: buildInvocationTool(), Handler: s.handleBuildInvocation},
		server.ServerTool{Tool: classifyLineTool(), Handler: s.handleClassifyLine},
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
