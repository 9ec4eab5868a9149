package runtime

import (
	"fmt"
	"runtime"
)

// Runner selects the execution substrate of a routine.
type Runner int

const (
	// RunnerThread runs the routine loop on its own goroutine.
	RunnerThread Runner = iota
	// RunnerProcess pins the routine loop to a dedicated, locked OS thread
	// for its whole lifetime. The loop stays in the calling process and
	// shares its address space: no memory or crash isolation is provided.
	// The shared-segment strategy still moves payloads through mapped
	// segments so wires behave as they would across processes.
	RunnerProcess
)

func (r Runner) String() string {
	switch r {
	case RunnerThread:
		return "thread"
	case RunnerProcess:
		return "process"
	default:
		return fmt.Sprintf("runner(%d)", int(r))
	}
}

// launcher starts fn on a fresh execution context and returns immediately.
type launcher func(fn func())

func (r Runner) launcher() launcher {
	switch r {
	case RunnerProcess:
		return launchLockedThread
	default:
		return launchGoroutine
	}
}

func launchGoroutine(fn func()) {
	go fn()
}

func launchLockedThread(fn func()) {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
}
