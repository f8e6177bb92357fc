package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cambrix/ubvremux/internal/anonymise"
)

var anonymiseCmd = &cobra.Command{
	Use:   "anonymise <input> <output>",
	Short: "Strip scene content from a .ubv capture while keeping it parseable",
	Long: `anonymise copies a .ubv file and zeroes the payload of every
video, audio, and metadata record in the copy, leaving clock-sync and
partition-header records intact so the result can still be shared with
a vendor without leaking what a camera recorded.`,
	Args: cobra.ExactArgs(2),
	RunE: runAnonymise,
}

func init() {
	rootCmd.AddCommand(anonymiseCmd)
}

func runAnonymise(_ *cobra.Command, args []string) error {
	if err := anonymise.Anonymise(args[0], args[1]); err != nil {
		return fmt.Errorf("anonymising %s: %w", args[0], err)
	}
	fmt.Printf("wrote anonymised copy to %s\n", args[1])
	return nil
}
