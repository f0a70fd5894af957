package gopool

import (
	"runtime"
	"testing"
)

func TestWorkersBounds(t *testing.T) {
	if got := Workers(0); got != 1 {
		t.Errorf("Workers(0) = %d, want 1", got)
	}
	if got := Workers(minContractsPerWorker - 1); got != 1 {
		t.Errorf("small batch = %d workers, want 1", got)
	}
	want := 2
	if cpus := runtime.NumCPU(); cpus < want {
		want = cpus
	}
	if got := Workers(2 * minContractsPerWorker); got != want {
		t.Errorf("Workers(%d) = %d, want %d", 2*minContractsPerWorker, got, want)
	}
	if got := Workers(1 << 20); got != runtime.NumCPU() {
		t.Errorf("huge batch = %d workers, want NumCPU %d", got, runtime.NumCPU())
	}
}
