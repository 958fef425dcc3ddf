package capability

import (
	"runtime"
	"testing"
)

func TestDetect_CPUCoresPositive(t *testing.T) {
	c := Detect()
	if c.CPUCores < 1 {
		t.Fatalf("expected at least 1 CPU core, got %d", c.CPUCores)
	}
}

func TestDetect_MatchesRuntimeNumCPU(t *testing.T) {
	c := Detect()
	if c.CPUCores != runtime.NumCPU() {
		t.Fatalf("expected CPUCores %d to match runtime.NumCPU() %d", c.CPUCores, runtime.NumCPU())
	}
}

func TestDetect_NeverErrors(t *testing.T) {
	// Detect has no error return; calling it repeatedly must never panic
	// regardless of host state.
	for i := 0; i < 3; i++ {
		_ = Detect()
	}
}

func TestDetect_NonDarwinHasNoANE(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("only meaningful on non-darwin hosts")
	}
	c := Detect()
	if c.HasANE {
		t.Fatalf("expected HasANE false on %s", runtime.GOOS)
	}
}

func TestDetect_NonLinuxHasZeroRAM(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Skip("only meaningful on non-linux hosts")
	}
	c := Detect()
	if c.TotalRAMBytes != 0 {
		t.Fatalf("expected TotalRAMBytes 0 on %s, got %d", runtime.GOOS, c.TotalRAMBytes)
	}
}
