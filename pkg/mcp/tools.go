package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sourcemapModes = []string{"file", "inline", "none"}

// compilerParams are shared by every tool that builds an invocation.
func compilerParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source directory, relative to the working directory"),
		),
		mcp.WithString("sourcemap",
			mcp.Description("Source map mode (default file)"),
			mcp.Enum(sourcemapModes...),
		),
		mcp.WithBoolean("bundler",
			mcp.Description("Run the compiler through `bundle exec`"),
		),
		mcp.WithString("container",
			mcp.Description("Name of the temporary output directory"),
		),
		mcp.WithArray("flags",
			mcp.Description("Passthrough compiler flags as key=value or key"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	}
}

func compileTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Compile a Sass source directory and return a summary of every output file. " +
			"Pass `out` to also write the outputs to disk."),
	}, compilerParams()...)
	opts = append(opts,
		mcp.WithString("out",
			mcp.Description("Directory to write outputs to; omit to only summarize"),
		),
		mcp.WithString("maps_dir",
			mcp.Description("Where source maps are written, relative to out (default: next to the CSS)"),
		),
	)
	return mcp.NewTool("compile", opts...)
}

func buildInvocationTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Return the compiler command line a compile would run, without running it."),
	}, compilerParams()...)
	return mcp.NewTool("build_invocation", opts...)
}

func classifyLineTool() mcp.Tool {
	return mcp.NewTool("classify_line",
		mcp.WithDescription("Classify one line of compiler output as log, error or ignored."),
		mcp.WithString("line",
			mcp.Required(),
			mcp.Description("The output line"),
		),
		mcp.WithString("channel",
			mcp.Description("Stream the line was written to (default stdout)"),
			mcp.Enum("stdout", "stderr"),
		),
		mcp.WithString("destination",
			mcp.Description("Output directory to strip from the line"),
		),
	)
}
