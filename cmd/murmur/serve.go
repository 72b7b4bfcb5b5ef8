package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/murmurtts/murmur/internal/config"
	"github.com/murmurtts/murmur/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the murmur HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			svc, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := server.New(cfg.Server.ListenAddr, svc,
				server.WithMaxTextBytes(cfg.Server.MaxTextBytes),
				server.WithWorkers(cfg.Server.Workers),
				server.WithRequestTimeout(time.Duration(cfg.Server.TimeoutSec)*time.Second),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	defaults := config.DefaultConfig()
	config.RegisterFlags(cmd.Flags(), defaults)

	return cmd
}
