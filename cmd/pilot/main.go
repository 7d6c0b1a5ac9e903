package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scalpel-pilot/cmd"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

const panicLogFile = "panic.log"

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitIncomplete = 2
)

var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

func exitCode(err error) int {
	var taskErr *cmd.TaskError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.As(err, &taskErr):
		return exitIncomplete
	default:
		return exitError
	}
}

// handlePanic records the stack in panic.log before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n%s\n", err, msg)
		osExit(exitError)
		return
	}
	fmt.Fprintf(os.Stderr, "pilot crashed; details written to %s\n", panicLogFile)
	osExit(exitError)
}
