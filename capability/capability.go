// Package capability probes the host for accelerator availability and
// memory, producing the Capabilities the Multi-Session Manager uses to
// decide its default backend set and routing policy.
package capability

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Capabilities describes what inference hardware a process can route to.
type Capabilities struct {
	HasANE        bool
	HasGPU        bool
	CPUCores      int
	TotalRAMBytes uint64
}

// Detect queries the host for accelerator and memory capabilities. It is
// side-effect-free and never returns an error: a probe that cannot
// determine accelerator or memory state degrades to a CPU-only default
// rather than failing startup.
func Detect() Capabilities {
	c := Capabilities{
		CPUCores: runtime.NumCPU(),
	}
	if c.CPUCores <= 0 {
		c.CPUCores = 1
	}

	c.HasANE = detectANE()
	c.HasGPU = detectGPU()
	c.TotalRAMBytes = detectTotalRAM()

	return c
}

// detectANE reports whether an Apple Neural Engine is plausibly present.
// There is no portable syscall for this; Apple Silicon Macs are the only
// platform this process can run on that carries an ANE, so GOOS/GOARCH is
// used as a conservative proxy.
func detectANE() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// detectGPU reports whether a general-purpose compute accelerator is
// plausibly present. Apple Silicon exposes Metal; other platforms are
// assumed CPU-only until a runtime probe (e.g. CUDA device enumeration via
// the backend package) proves otherwise at backend-init time.
func detectGPU() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// detectTotalRAM reads total physical memory from /proc/meminfo on Linux.
// On any other platform, or if the read fails, it returns 0, which callers
// must treat as "unknown" rather than "no memory".
func detectTotalRAM() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}

	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
