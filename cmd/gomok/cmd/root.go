package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "gomok",
	Short:   "gomok is a matchmaking and move relay server for gomoku",
	Version: Version,
	Long: `A long-poll relay that pairs two gomoku players under a shared matching
key, synchronises their handshake and forwards moves between them.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
