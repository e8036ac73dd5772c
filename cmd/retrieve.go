package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/revradar/retrieval-engine/internal/retrieval"
)

func newRetrieveCmd() *cobra.Command {
	var (
		makeHint      string
		modelHint     string
		variantHint   string
		authorHint    string
		actor         string
		budgetSeconds int
		noEscalate    bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve URL",
		Short: "Fetch one page through the tier ladder",
		Long: `Retrieves a single URL, escalating through the configured fetch
tiers, and prints the content to stdout. Exit status is non-zero when
every eligible tier refuses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := instance.Orchestrator.Retrieve(cmd.Context(), retrieval.Request{
				URL: args[0],
				Subject: retrieval.SubjectHints{
					Make:    makeHint,
					Model:   modelHint,
					Variant: variantHint,
					Author:  authorHint,
				},
				Actor:      actor,
				Budget:     time.Duration(budgetSeconds) * time.Second,
				NoEscalate: noEscalate,
			})
			if !res.Success {
				return fmt.Errorf("retrieval refused at tier %s: %s", res.Tier, res.Reason)
			}
			cmd.Printf("%s\n", res.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&makeHint, "make", "", "subject make hint")
	cmd.Flags().StringVar(&modelHint, "model", "", "subject model hint")
	cmd.Flags().StringVar(&variantHint, "variant", "", "subject variant hint")
	cmd.Flags().StringVar(&authorHint, "author", "", "expected author for disambiguation")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor partitioning the result cache")
	cmd.Flags().IntVar(&budgetSeconds, "budget", 0, "wall-clock budget in seconds (0 uses the configured default)")
	cmd.Flags().BoolVar(&noEscalate, "no-escalate", false, "stay on the starting tier")
	return cmd
}
