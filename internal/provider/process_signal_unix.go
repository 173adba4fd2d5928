//go:build unix

package provider

import "syscall"

// cancelSignal is the soft termination signal sent before the WaitDelay
// grace window escalates to SIGKILL.
var cancelSignal = syscall.SIGTERM

// pauseSignal/resumeSignal freeze and thaw a child without ending it.
var pauseSignal = syscall.SIGSTOP
var resumeSignal = syscall.SIGCONT
