package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gnana997/sasspipe/pkg/runlog"
)

// loggingMiddleware records every tool call as a JSONL entry via the server's
// logger. Only installed when the logger is non-nil.
func (s *Server) loggingMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := runlog.Now()
			result, err := next(ctx, req)

			entry := runlog.ToolEntry{
				Ts:            start.UTC().Format(time.RFC3339),
				Tool:          req.Params.Name,
				Params:        runlog.SanitizeParams(req.GetArguments()),
				DurationMs:    runlog.Now().Sub(start).Milliseconds(),
				ResponseBytes: responseBytes(result),
				Error:         runlog.ErrorString(err),
			}
			if err == nil && result != nil && result.IsError {
				entry.Error = runlog.ErrorString(toolError(result))
			}
			_ = s.logger.WriteTool(entry)

			return result, err
		}
	}
}

// responseBytes returns the serialized length of a result's content.
func responseBytes(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	b, err := json.Marshal(result.Content)
	if err != nil {
		return 0
	}
	return len(b)
}

type resultError string

func (e resultError) Error() string { return string(e) }

func toolError(result *mcp.CallToolResult) error {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return resultError(text.Text)
		}
	}
	return resultError("tool error")
}
