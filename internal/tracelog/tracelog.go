// Package tracelog wraps the standard log package for VM lifecycle and
// scheduler diagnostics, grounded on the teacher's own direct use of `log`
// in internal/vm/vm.go (no structured logging library appears anywhere in
// the retrieval pack; see DESIGN.md for why that stays a standard-library
// choice here too).
package tracelog

import (
	"log"
	"os"
)

// Logger is the narrow surface the VM and scheduler use: leveled enough to
// separate routine scheduling noise from actual faults, nothing more.
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to standard error with the given prefix
// (the package-level functions use "candy: "), mirroring the teacher's log.New(os.Stderr, "[VM] ", ...) call sites.
func New(prefix string) *Logger {
	return &Logger{log.New(os.Stderr, prefix, log.LstdFlags)}
}

var std = New("candy: ")

func Infof(format string, args ...any)  { std.Printf("INFO "+format, args...) }
func Warnf(format string, args ...any)  { std.Printf("WARN "+format, args...) }
func Errorf(format string, args ...any) { std.Printf("ERROR "+format, args...) }
