//go:build windows

package provider

import "os"

// cancelSignal is the soft termination signal sent before the WaitDelay
// grace window escalates to a forced kill. Windows has no SIGTERM; os.Kill
// is the closest os.Process.Signal accepts.
var cancelSignal = os.Kill

// pauseSignal/resumeSignal: Windows has no SIGSTOP/SIGCONT equivalent and
// os.Process.Signal only implements os.Kill there, so these reliably return
// "not supported" instead of silently doing nothing or killing the child.
var pauseSignal = os.Interrupt
var resumeSignal = os.Interrupt
