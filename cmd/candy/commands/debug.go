package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/candy-lang/candy-sub004/internal/pipeline"
)

var debugStages = map[string]pipeline.DebugStage{
	"rcst":          pipeline.DebugRCST,
	"cst":           pipeline.DebugCST,
	"ast":           pipeline.DebugAST,
	"hir":           pipeline.DebugHIR,
	"mir":           pipeline.DebugMIR,
	"optimized-mir": pipeline.DebugOptimizedMIR,
	"lir":           pipeline.DebugLIR,
}

func newDebugCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "debug {rcst|cst|ast|hir|mir|optimized-mir|lir} <file>",
		Short:     "Print one of a module's intermediate representations",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"rcst", "cst", "ast", "hir", "mir", "optimized-mir", "lir"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, ok := debugStages[args[0]]
			if !ok {
				return fmt.Errorf("unknown stage %q", args[0])
			}
			p, module, err := openModule(args[1])
			if err != nil {
				return err
			}
			rendered, bag, ok := p.Debug(module, stage)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: could not read module %s\n", module)
				return errFileNotFound
			}
			fmt.Println(rendered)
			if reportDiagnostics(p, module, bag) > 0 {
				return errProgramFailed
			}
			return nil
		},
	}
}
