package commands

import (
	"fmt"
	"os"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/candy-lang/candy-sub004/internal/tracer"
	"github.com/candy-lang/candy-sub004/internal/vm"
)

func newRunCommand() *cobra.Command {
	var traceURL string
	var maxInstructions int

	cmd := &cobra.Command{
		Use:   "run <file> [-- <args>...]",
		Short: "Compile a Candy module and invoke its main export",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, module, err := openModule(args[0])
			if err != nil {
				return err
			}

			sink, closeSink, err := buildSink(traceURL)
			if err != nil {
				return err
			}
			defer closeSink()

			var controller vm.ExecutionController = vm.RunForever{}
			if maxInstructions > 0 {
				controller = vm.NewRunLimitedInstructions(maxInstructions)
			}

			result, fiber := p.RunMain(module, sink, controller, args[1:])
			if result.Diagnostics.HasErrors() {
				reportDiagnostics(p, module, result.Diagnostics)
				return errProgramFailed
			}
			if fiber == nil {
				fmt.Fprintln(os.Stderr, "Error: the module does not export main")
				return errProgramFailed
			}

			switch fiber.Status {
			case vm.Done:
				fmt.Println(vm.RenderValue(fiber, fiber.DoneValue))
				return nil
			case vm.Panicked:
				fmt.Fprintf(os.Stderr, "The program panicked: %s\n", vm.RenderValue(fiber, fiber.PanicReason))
				fmt.Fprintf(os.Stderr, "Responsible: %s\n", vm.RenderValue(fiber, fiber.PanicResponsible))
				return errProgramFailed
			default:
				fmt.Fprintf(os.Stderr, "The program did not finish (status %s)\n", fiber.Status)
				return errProgramFailed
			}
		},
	}
	cmd.Flags().StringVar(&traceURL, "trace-url", "", "websocket URL to stream trace events to")
	cmd.Flags().IntVar(&maxInstructions, "max-instructions", 0, "stop after this many VM instructions (0 = run forever)")
	return cmd
}

// buildSink returns the tracer sink for a run: a websocket exporter when
// traceURL is set, the no-op sink otherwise.
func buildSink(traceURL string) (tracer.Sink, func(), error) {
	if traceURL == "" {
		return tracer.NoopSink{}, func() {}, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(traceURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing trace sink: %w", err)
	}
	return tracer.NewWSExporter(conn), func() { conn.Close() }, nil
}
