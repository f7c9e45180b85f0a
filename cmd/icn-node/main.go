package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "icn-node"}
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(dagCmd())
	rootCmd.AddCommand(manaCmd())
	rootCmd.AddCommand(reputationCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(meshCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
