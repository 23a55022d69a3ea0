package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "branch-orders",
	Short: "Branch order management for restaurant tablets",
	Long: `branch-orders runs the branch API that restaurant tablets sign in to,
provisions branches and the menu, and shows a live kitchen board.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors are already printed when it returns.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(v, c string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", v, c)
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, boardCmd, advanceCmd)
}
