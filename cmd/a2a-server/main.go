// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Command a2a-server runs an A2A task server exposing JSON-RPC, REST and gRPC
// over one task store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-a2a/a2a-core/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:          "a2a-server",
		Short:        "Agent-to-Agent task server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(v))
	root.AddCommand(newVersionCommand())

	return root
}

// serveFlags maps command line flags to config keys.
var serveFlags = []struct {
	name, key, usage string
}{
	{"http-addr", "server.httpAddr", "listen address of the JSON-RPC and REST endpoints"},
	{"grpc-addr", "server.grpcAddr", "listen address of the gRPC endpoint"},
	{"store-driver", "store.driver", "task store driver (memory or sqlite)"},
	{"store-dsn", "store.dsn", "data source name of the sqlite store"},
	{"log-level", "log.level", "log level (debug, info, warn, error)"},
	{"log-format", "log.format", "log format (text or json)"},
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			return run(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&path, "config", "c", "", "path to a YAML or JSON config file")
	for _, f := range serveFlags {
		flags.String(f.name, v.GetString(f.key), f.usage)
		if err := v.BindPFlag(f.key, flags.Lookup(f.name)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			version := "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
			fmt.Fprintln(cmd.OutOrStdout(), "a2a-server", version)
		},
	}
}

// newLogger builds the process logger from the log config.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
