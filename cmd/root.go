// Package cmd defines the CLI commands for the retriever executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/revradar/retrieval-engine/internal/app"
	"github.com/revradar/retrieval-engine/internal/config"
)

var cfgFile string

type appKeyType struct{}

// newApp is the application factory. A variable so tests can swap in a
// stub without touching real egress or a browser.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retriever",
		Short: "Adaptive multi-tier content retrieval engine",
		Long: `retriever acquires article pages and video transcripts from hostile
origins, escalating through fetch tiers (direct, rendered, feed, browser)
as cheaper ones fail, with per-domain cooldowns and sticky proxy sessions.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			instance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, instance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if instance, ok := cmd.Context().Value(appKeyType{}).(*app.App); ok && instance != nil {
				_ = instance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is retriever.yaml in the working directory)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newTranscriptCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || instance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return instance, nil
}

// Execute is the entry point called from main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "retriever: %v\n", err)
		os.Exit(1)
	}
}
