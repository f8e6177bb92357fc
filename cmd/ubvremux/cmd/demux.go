package cmd

import (
	"github.com/spf13/cobra"
)

var demuxCmd = &cobra.Command{
	Use:   "demux <file>...",
	Short: "Demux .ubv recordings into raw elementary-stream files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDemux,
}

func init() {
	addRemuxFlags(demuxCmd.Flags())
	bindRemuxFlags(demuxCmd.Flags())
	rootCmd.AddCommand(demuxCmd)
}

func runDemux(_ *cobra.Command, args []string) error {
	return runDriver(args, false)
}
