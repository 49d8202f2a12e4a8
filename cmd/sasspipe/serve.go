package main

import (
	"github.com/spf13/cobra"

	"github.com/gnana997/sasspipe/pkg/config"
	mcpserver "github.com/gnana997/sasspipe/pkg/mcp"
	"github.com/gnana997/sasspipe/pkg/runlog"
	"github.com/gnana997/sasspipe/pkg/sass"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var runLog string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProjectConfig()
			if err != nil {
				return err
			}
			logger, err := g.logger()
			if err != nil {
				return err
			}

			rl, err := runlog.New(config.String(runLog, cfg.RunLog, ""))
			if err != nil {
				return err
			}
			defer rl.Close()

			defaults := sass.Options{
				Options: cfg.Invocation(),
				Workers: cfg.Workers,
				Include: cfg.Include,
				Exclude: cfg.Exclude,
				Logger:  logger,
				RunLog:  rl,
				Command: commandFunc,
			}
			return mcpserver.NewServer(defaults, rl).ServeStdio()
		},
	}

	cmd.Flags().StringVar(&runLog, "run-log", "", "Append a JSONL entry per run and tool call to this file")
	return cmd
}
