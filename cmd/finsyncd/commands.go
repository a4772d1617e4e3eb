package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/finsync/api"
	"github.com/Aidin1998/finsync/internal/config"
	"github.com/Aidin1998/finsync/internal/syncbus"
)

// loadSettings loads dotenv files and the config without watching it.
func loadSettings(opts *rootOptions, logger *zap.Logger) (*config.Loader, *config.Settings, error) {
	config.LoadDotEnv(logger, opts.envFiles...)
	loader := config.NewLoader(logger)
	settings, err := loader.Load(opts.configFiles...)
	if err != nil {
		return nil, nil, err
	}
	return loader, settings, nil
}

func loadGraph(path string) (*syncbus.Graph, error) {
	if path == "" {
		return syncbus.DefaultGraph(), nil
	}
	return syncbus.LoadGraph(path)
}

func newGraphCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the effective invalidation dependency graph as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := loadSettings(opts, zap.NewNop())
			if err != nil {
				return err
			}
			graph, err := loadGraph(settings.Sync.GraphFile)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(graph); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, settings, err := loadSettings(opts, zap.NewNop())
			if err != nil {
				return err
			}
			if settings.API.JWTSecret == "" {
				return errors.New("api.jwt_secret is not configured")
			}
			token, err := api.IssueToken(settings.API.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
