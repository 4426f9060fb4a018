// Package commands implements the candy CLI's verbs: run, check, and
// debug, wired onto the compilation pipeline and the fiber VM.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/candy-lang/candy-sub004/internal/diagnostics"
	"github.com/candy-lang/candy-sub004/internal/modident"
	"github.com/candy-lang/candy-sub004/internal/moduleprovider"
	"github.com/candy-lang/candy-sub004/internal/pipeline"
)

// Exit codes: 0 success, 1 compile or runtime errors, 2 file not found.
const (
	exitOK       = 0
	exitErrors   = 1
	exitNotFound = 2
)

var errFileNotFound = errors.New("file not found")
var errProgramFailed = errors.New("program failed")

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "candy",
		Short:         "The Candy toolchain: compile and run Candy programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newCheckCommand(), newDebugCommand())
	return root
}

// Execute runs the CLI and translates the sentinel errors the commands
// return into the documented exit codes.
func Execute() int {
	err := newRootCommand().Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFileNotFound):
		return exitNotFound
	case errors.Is(err, errProgramFailed):
		return exitErrors
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitErrors
	}
}

// openModule maps a .candy file path onto a file-backed pipeline plus the
// module identifier naming that file within its directory.
func openModule(path string) (*pipeline.Pipeline, modident.Identifier, error) {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: no such file\n", path)
		return nil, modident.Identifier{}, errFileNotFound
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, modident.Identifier{}, err
	}
	root := filepath.Dir(abs)
	name := strings.TrimSuffix(filepath.Base(abs), ".candy")

	provider := moduleprovider.NewFileProvider(root)
	module := modident.New(
		modident.Package{Kind: modident.User, Value: root},
		[]string{name},
		modident.Code,
	)
	return pipeline.New(provider), module, nil
}

// reportDiagnostics renders every collected diagnostic against the module's
// source text and returns how many there were.
func reportDiagnostics(p *pipeline.Pipeline, module modident.Identifier, bag *diagnostics.Bag) int {
	source := ""
	if content, ok := p.Provider.GetContent(module); ok {
		source = string(content)
	}
	for _, d := range bag.Entries() {
		fmt.Fprintln(os.Stderr, d.Render(source))
	}
	return bag.Len()
}
