package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTranscriptCmd() *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "transcript VIDEO_ID",
		Short: "Fetch a video transcript",
		Long: `Acquires the caption transcript for a video, rotating client
identities and egress sessions as needed, and prints the text to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			text, err := instance.Transcripts.GetTranscript(cmd.Context(), args[0], maxChars)
			if err != nil {
				return fmt.Errorf("transcript for %s: %w", args[0], err)
			}
			cmd.Printf("%s\n", text)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "truncate at a sentence boundary near this many characters (0 disables)")
	return cmd
}
