package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gnana997/sasspipe/pkg/config"
	"github.com/gnana997/sasspipe/pkg/process"
	"github.com/gnana997/sasspipe/pkg/util"
)

// Replaceable for testing.
var (
	commandFunc process.CommandFunc
	logOutput   io.Writer = os.Stderr
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	verbose   bool
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	cmd := &cobra.Command{
		Use:           "sasspipe",
		Short:         "Stream Sass compiler output into ordered file records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log compiler output and debug details")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newBuildCmd(&g))
	cmd.AddCommand(newServeCmd(&g))
	cmd.AddCommand(newVersionCmd())

	cmd.SetVersionTemplate(fmt.Sprintf("sasspipe %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = version

	return cmd
}

func (g *globalOptions) logger() (*slog.Logger, error) {
	format, err := util.ParseLogFormat(g.logFormat)
	if err != nil {
		return nil, err
	}

	var cfg util.LoggerConfig
	if g.verbose {
		cfg = util.VerboseLoggerConfig()
	} else {
		cfg = util.DefaultLoggerConfig()
	}
	if g.logLevel != "" {
		level, err := util.ParseLogLevel(g.logLevel)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	cfg.Format = format
	cfg.Output = logOutput

	logger := util.NewLogger(cfg)
	util.SetDefault(logger)
	return logger, nil
}

// loadProjectConfig reads .sasspipe/config.yaml from the current directory.
// A missing file yields an empty config.
func loadProjectConfig() (*config.ProjectConfig, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &config.ProjectConfig{}
	}
	return cfg, nil
}
