// Command herald runs the notification pipeline and operates on its job
// queue.
//
//	herald serve                      run HTTP, gateway and workers
//	herald jobs counts                print aggregate queue counts
//	herald jobs failed [--limit N]    list failed jobs
//	herald jobs retry <job-id>        move a failed job back to waiting
//	herald jobs discard <job-id>      drop a failed job
//	herald token --user u1            mint a bearer token
//	herald listen --url ws://...      print realtime events
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/herald"
)

// Version is set via ldflags at build time.
var Version = "dev"

type rootFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "herald",
		Short:         "Notification pipeline: job queue, event bus and realtime gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")

	cmd.AddCommand(
		newServeCmd(flags),
		newJobsCmd(flags),
		newTokenCmd(flags),
		newListenCmd(),
	)
	return cmd
}

func (f *rootFlags) load() (herald.Config, *slog.Logger, error) {
	cfg, err := herald.LoadConfig(f.configPath, f.envFiles...)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg.Log), nil
}

func newLogger(cfg herald.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With(slog.String("service", "herald"))
}
