package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gnana997/sasspipe/pkg/classify"
	"github.com/gnana997/sasspipe/pkg/invocation"
	"github.com/gnana997/sasspipe/pkg/output"
	"github.com/gnana997/sasspipe/pkg/sass"
)

type recordSummary struct {
	Path     string   `json:"path"`
	Relative string   `json:"relative"`
	Bytes    int      `json:"bytes"`
	HasMap   bool     `json:"has_map"`
	Sources  []string `json:"sources,omitempty"`
}

type compileResult struct {
	Records []recordSummary `json:"records"`
	Written []string        `json:"written,omitempty"`
}

type invocationResult struct {
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	CommandLine string   `json:"command_line"`
	Destination string   `json:"destination"`
	Base        string   `json:"base"`
}

type classifyResult struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// requestOptions overlays tool arguments on the server defaults.
func (s *Server) requestOptions(req mcp.CallToolRequest) (string, sass.Options, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return "", sass.Options{}, err
	}

	opts := s.defaults
	opts.Flags = append(invocation.Flags(nil), s.defaults.Flags...)

	if v := req.GetString("sourcemap", ""); v != "" {
		mode, err := invocation.ParseSourcemapMode(v)
		if err != nil {
			return "", sass.Options{}, err
		}
		opts.Sourcemap = mode
	}
	opts.Bundler = req.GetBool("bundler", opts.Bundler)
	if v := req.GetString("container", ""); v != "" {
		opts.Container = v
	}

	if raw, ok := req.GetArguments()["flags"]; ok && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return "", sass.Options{}, fmt.Errorf("flags must be an array of strings")
		}
		for _, item := range items {
			str, ok := item.(string)
			if !ok {
				return "", sass.Options{}, fmt.Errorf("flags must be an array of strings")
			}
			flag, err := invocation.ParseFlag(str)
			if err != nil {
				return "", sass.Options{}, err
			}
			opts.Flags.Set(flag.Name, flag.Value)
		}
	}

	return source, opts, nil
}

func (s *Server) handleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, opts, err := s.requestOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	records, err := sass.Run(ctx, source, opts).Collect(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := compileResult{Records: make([]recordSummary, 0, len(records))}
	for _, rec := range records {
		sum := recordSummary{
			Path:     rec.Path,
			Relative: rec.Relative(),
			Bytes:    len(rec.Contents),
			HasMap:   rec.SourceMap != nil,
		}
		if rec.SourceMap != nil {
			sum.Sources = rec.SourceMap.Sources
		}
		res.Records = append(res.Records, sum)
	}

	if out := req.GetString("out", ""); out != "" {
		if !filepath.IsAbs(out) && opts.Cwd != "" {
			out = filepath.Join(opts.Cwd, out)
		}
		mapsDir := req.GetString("maps_dir", ".")
		inline := opts.Sourcemap == invocation.SourcemapInline
		written, err := output.WriteRecords(records, out, output.WriteOptions{MapsDir: mapsDir, InlineMaps: inline})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res.Written = written
	}

	return jsonResult(res)
}

func (s *Server) handleBuildInvocation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, opts, err := s.requestOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	plan, err := sass.Prepare(source, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(invocationResult{
		Command:     plan.Invocation.Command,
		Args:        plan.Invocation.Args,
		CommandLine: plan.Invocation.String(),
		Destination: plan.Destination,
		Base:        plan.Base,
	})
}

func (s *Server) handleClassifyLine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := req.RequireString("line")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	channel := classify.Channel(req.GetString("channel", string(classify.Stdout)))
	if channel != classify.Stdout && channel != classify.Stderr {
		return mcp.NewToolResultError(fmt.Sprintf("unknown channel %q (want stdout or stderr)", channel)), nil
	}

	res := classify.Line(channel, line, req.GetString("destination", ""))
	return jsonResult(classifyResult{Kind: res.Kind.String(), Text: res.Text})
}
