package shutdown

import (
	"os"
	"syscall"

	"birthday_bot/core"
)

// Signals handled by the manager.
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// ExitCodeForSignal maps a termination signal to the conventional 128+N
// exit code.
func ExitCodeForSignal(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	}
	return core.ExitCodeError
}
