package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Compile a Candy module and report every error without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, module, err := openModule(args[0])
			if err != nil {
				return err
			}
			bag := p.Check(module)
			if n := reportDiagnostics(p, module, bag); n > 0 {
				fmt.Printf("Found %d error(s).\n", n)
				return errProgramFailed
			}
			fmt.Println("No errors found.")
			return nil
		},
	}
}
