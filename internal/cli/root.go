// Package cli wires the cobra commands: serve runs the control plane,
// attach connects a terminal console to a running one.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "openagent",
	Short: "Mission control plane for coding agents",
	Long: `openagent runs coding agent missions: it queues user messages,
drives one harness turn at a time, streams normalized events, and
persists everything so an interrupted mission can be resumed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
