package sysinfo

import (
	"os"
	"runtime"
	"testing"
)

func TestMemory(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("memory sampling only asserted on linux and darwin")
	}
	st, err := Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	if st.TotalMB == 0 {
		t.Fatalf("expected non-zero total memory")
	}
	if st.UsedPercent < 0 || st.UsedPercent > 100 {
		t.Fatalf("used percent out of range: %v", st.UsedPercent)
	}
}

func TestProcessRSS(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rss asserted on linux only")
	}
	rss, err := ProcessRSS(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessRSS: %v", err)
	}
	if rss == 0 {
		t.Fatalf("expected non-zero rss")
	}
}
