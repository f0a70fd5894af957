// Package gopool wraps a shared ants goroutine pool used to pipeline
// independent contract analyses. Each submitted task owns its contract
// end to end; the only shared state across tasks is the read-only opcode
// metadata, so no synchronization is needed inside them.
package gopool

import (
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
)

var (
	defaultPool, _ = ants.NewPool(ants.DefaultAntsPoolSize, ants.WithExpiryDuration(10*time.Second))

	minContractsPerWorker = 4
)

// Submit schedules a task on the shared pool.
func Submit(task func()) error {
	return defaultPool.Submit(task)
}

// Running returns the number of currently running workers.
func Running() int {
	return defaultPool.Running()
}

// Cap returns the pool capacity.
func Cap() int {
	return defaultPool.Cap()
}

// Free returns the number of available workers.
func Free() int {
	return defaultPool.Free()
}

// Release closes the shared pool.
func Release() {
	defaultPool.Release()
}

// Reboot restarts the shared pool after a Release.
func Reboot() {
	defaultPool.Reboot()
}

// Workers sizes a batch: one worker per few contracts, capped at the CPU
// count. Analysis is CPU-bound, so more workers than cores only adds churn.
func Workers(contracts int) int {
	workers := contracts / minContractsPerWorker
	if workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	} else if workers == 0 {
		workers = 1
	}
	return workers
}
