//go:build !linux

package governor

import "runtime"

// memSample is a point-in-time host/daemon memory reading, expressed in
// bytes.
type memSample struct {
	HostTotalRAM int64
	HostUsedRAM  int64
	DaemonRSS    int64
}

// sampleMemory falls back to runtime.MemStats outside Linux, where neither
// /proc nor a confirmed-available x/sys/unix.Sysinfo equivalent exists in
// this module's dependency set. Host totals are left at zero (unknown)
// rather than guessed; only the memory the Go runtime has obtained from
// the OS for the daemon (MemStats.Sys) is reported, so
// the emergency-pressure comparison in tick() never fires spuriously on
// non-Linux (HostTotalRAM == 0 short-circuits that branch). See DESIGN.md
// for this deviation from the spec's literal Sysinfo fallback suggestion.
func sampleMemory() (memSample, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memSample{
		HostTotalRAM: 0,
		HostUsedRAM:  0,
		DaemonRSS:    int64(m.Sys),
	}, nil
}
