package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/vecstore/internal/server"
	"github.com/Zereker/vecstore/pkg/log"
	"github.com/Zereker/vecstore/pkg/redis"
)

var version = "dev"

const defaultConfigFile = "configs/config.toml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "vecstore",
		Short:        "Scoped vector store with OpenSearch and Qdrant backends",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", defaultConfigFile, "path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProvisionCmd())
	cmd.AddCommand(newPingCmd())

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP / MCP servers and the Kafka command consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			srv, err := server.NewServer(cmd.Context(), conf)
			if err != nil {
				return errors.WithMessage(err, "failed to create server")
			}
			defer srv.Shutdown()

			return srv.Start()
		},
	}
}

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the configured collection if needed and check its dimensions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := log.Init(conf.Log); err != nil {
				return errors.WithMessage(err, "failed to init log")
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			if err := redis.Init(ctx, conf.Redis); err != nil {
				return errors.WithMessage(err, "failed to init redis")
			}
			defer func() { _ = redis.Close() }()

			store, err := server.OpenStore(ctx, conf)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.EnsureCollection(ctx); err != nil {
				return err
			}

			c := store.Collection()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "collection %s ready on %s (dims=%d, metric=%s)\n",
				c.Name, store.Backend(), c.Dims, c.Metric)
			return nil
		},
	}

	cmd.Flags().Duration("timeout", time.Minute, "overall deadline")
	return cmd
}

func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured backend is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := log.Init(conf.Log); err != nil {
				return errors.WithMessage(err, "failed to init log")
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			store, err := server.OpenStore(ctx, conf)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Ping(ctx); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is reachable\n", store.Backend())
			return nil
		},
	}

	cmd.Flags().Duration("timeout", 30*time.Second, "overall deadline")
	return cmd
}

func loadConfig(cmd *cobra.Command) (server.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	conf, err := server.LoadConfig(path)
	if err != nil {
		return conf, errors.WithMessage(err, "failed to load configuration")
	}
	return conf, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(ctx, timeout)
}
