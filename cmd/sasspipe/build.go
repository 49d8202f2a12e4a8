package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gnana997/sasspipe/pkg/config"
	"github.com/gnana997/sasspipe/pkg/invocation"
	"github.com/gnana997/sasspipe/pkg/output"
	"github.com/gnana997/sasspipe/pkg/runlog"
	"github.com/gnana997/sasspipe/pkg/sass"
)

// buildOptions holds parsed flags for the build command.
type buildOptions struct {
	out        string
	sourcemap  string
	bundler    bool
	container  string
	flags      []string
	mapsDir    string
	inlineMaps bool
	workers    int
	runLog     string
	keep       bool
}

func newBuildCmd(g *globalOptions) *cobra.Command {
	var o buildOptions

	cmd := &cobra.Command{
		Use:   "build [source]",
		Short: "Compile a source directory and write its outputs",
		Long: `Compile a source directory with sass --update and write every output
file under --out. Flags override .sasspipe/config.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProjectConfig()
			if err != nil {
				return err
			}

			var source string
			if len(args) == 1 {
				source = args[0]
			}
			source = config.String(source, cfg.Source, "")
			if source == "" {
				return errors.New("no source directory: pass one or set source in .sasspipe/config.yaml")
			}
			out := config.String(o.out, cfg.Out, "")
			if out == "" {
				return errors.New("no output directory: pass --out or set out in .sasspipe/config.yaml")
			}

			inv, err := o.invocation(cmd, cfg)
			if err != nil {
				return err
			}

			logger, err := g.logger()
			if err != nil {
				return err
			}

			rl, err := runlog.New(config.String(o.runLog, cfg.RunLog, ""))
			if err != nil {
				return err
			}
			defer rl.Close()

			opts := sass.Options{
				Options:         inv,
				Workers:         config.Int(o.workers, cfg.Workers, 0),
				KeepDestination: o.keep,
				Include:         cfg.Include,
				Exclude:         cfg.Exclude,
				Logger:          logger,
				RunLog:          rl,
				Command:         commandFunc,
			}

			ctx := cmd.Context()
			written, err := output.Write(ctx, sass.Run(ctx, source, opts), out, output.WriteOptions{
				MapsDir:    config.String(o.mapsDir, cfg.MapsDir, "."),
				InlineMaps: o.inlineMaps || cfg.InlineMaps,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(written), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.out, "out", "o", "", "Directory to write outputs to")
	cmd.Flags().StringVar(&o.sourcemap, "sourcemap", "", "Source map mode: file, inline or none (default file)")
	cmd.Flags().BoolVar(&o.bundler, "bundler", false, "Run the compiler through `bundle exec`")
	cmd.Flags().StringVar(&o.container, "container", "", "Name of the temporary output directory (default gulp-ruby-sass)")
	cmd.Flags().StringArrayVar(&o.flags, "flag", nil, "Passthrough compiler flag as key=value or key (repeatable)")
	cmd.Flags().StringVar(&o.mapsDir, "maps-dir", "", "Where maps are written, relative to --out (default: next to the CSS)")
	cmd.Flags().BoolVar(&o.inlineMaps, "inline-maps", false, "Embed maps in the CSS as data URLs")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Concurrent output reads (default: based on CPU count)")
	cmd.Flags().StringVar(&o.runLog, "run-log", "", "Append a JSONL entry per run to this file")
	cmd.Flags().BoolVar(&o.keep, "keep-destination", false, "Leave the compiler's temporary output directory on disk")

	return cmd
}

// invocation merges explicitly set flags over the config file.
func (o *buildOptions) invocation(cmd *cobra.Command, cfg *config.ProjectConfig) (invocation.Options, error) {
	inv := cfg.Invocation()

	if cmd.Flags().Changed("sourcemap") {
		mode, err := invocation.ParseSourcemapMode(o.sourcemap)
		if err != nil {
			return inv, err
		}
		inv.Sourcemap = mode
	}
	if cmd.Flags().Changed("bundler") {
		inv.Bundler = o.bundler
	}
	inv.Container = config.String(o.container, inv.Container, "")

	for _, raw := range o.flags {
		flag, err := invocation.ParseFlag(raw)
		if err != nil {
			return inv, fmt.Errorf("--flag %q: %w", raw, err)
		}
		inv.Flags.Set(flag.Name, flag.Value)
	}
	return inv, nil
}
