package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cynidn2x/precice/pkg/config"
)

// NewValidateCommand creates the validate command that loads a scheme
// configuration file and reports whether it would construct a scheme.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a scheme configuration file",
		Long: `Loads a YAML scheme configuration, runs the same construction-time
checks a BaseCouplingScheme would apply, and reports the resolved
parameters without running a simulation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			params := cfg.ToParams()
			fmt.Printf("participant:     %s\n", params.LocalParticipant)
			fmt.Printf("coupling mode:   %v\n", params.CouplingMode)
			fmt.Printf("dt method:       %v\n", params.DtMethod)
			fmt.Printf("does first step: %v\n", params.DoesFirstStep)
			if params.TimeWindowSize != nil {
				fmt.Printf("time window:     %g\n", *params.TimeWindowSize)
			}
			if params.MaxTime != nil {
				fmt.Printf("max time:        %g\n", *params.MaxTime)
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}

	return cmd
}
