//go:build linux

package doctor

import "syscall"

// diskSpace reports free/total bytes on the filesystem backing path via
// the stdlib syscall package's Statfs_t, the same way memstat_linux.go
// samples memory directly from /proc rather than reaching for an
// unconfirmed golang.org/x/sys/unix call.
func diskSpace(path string) (free, total int64, ok bool) {
	if path == "" {
		return 0, 0, false
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, false
	}
	return int64(st.Bavail) * int64(st.Bsize), int64(st.Blocks) * int64(st.Bsize), true
}
