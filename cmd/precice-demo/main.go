package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cynidn2x/precice/cmd/precice-demo/internal/commands"
)

var rootCmd = &cobra.Command{
	Use:   "precice-demo",
	Short: "Demo driver for the coupling-scheme core",
	Long: `A minimal command-line adapter that drives two in-process
participants through the coupling-scheme core end to end, for
manual smoke-testing of the exchange protocol without a real solver.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
