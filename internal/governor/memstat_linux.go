//go:build linux

package governor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// memSample is a point-in-time host/daemon memory reading, expressed in
// bytes (spec §4.4/§4.8: MemTotal/MemAvailable from /proc/meminfo, VmRSS
// from /proc/self/status).
type memSample struct {
	HostTotalRAM int64
	HostUsedRAM  int64
	DaemonRSS    int64
}

// sampleMemory reads /proc/meminfo and /proc/self/status directly, matching
// spec §4.4's literal description of the memory pressure inputs.
func sampleMemory() (memSample, error) {
	total, avail, err := readMemInfo("/proc/meminfo")
	if err != nil {
		return memSample{}, err
	}
	rss, err := readSelfRSS("/proc/self/status")
	if err != nil {
		return memSample{HostTotalRAM: total, HostUsedRAM: total - avail}, err
	}
	return memSample{
		HostTotalRAM: total,
		HostUsedRAM:  total - avail,
		DaemonRSS:    rss,
	}, nil
}

func readMemInfo(path string) (total, available int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMemInfoKB(line) * 1024
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMemInfoKB(line) * 1024
		}
	}
	return total, available, scanner.Err()
}

func readSelfRSS(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			return parseMemInfoKB(line) * 1024, scanner.Err()
		}
	}
	return 0, scanner.Err()
}

func parseMemInfoKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
