package analyzer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/evmsleuth/sleuth/common/gopool"
	"github.com/evmsleuth/sleuth/core/report"
	"github.com/evmsleuth/sleuth/core/tracker"
)

// Job is one contract in a batch.
type Job struct {
	Name string // caller-chosen identifier, echoed in logs
	Code []byte
	// Layout optionally overrides the batch config's layout for this job.
	Layout *tracker.Layout
}

// Result pairs a job with its outcome.
type Result struct {
	Name     string
	Contract *Contract
	Err      error
}

const reportCacheSize = 4096

// reportCache memoizes finished reports by code hash. Reports are a
// deterministic function of (bytecode, layout), so cached entries are only
// used for jobs without a per-job layout.
var reportCache = lru.NewCache[common.Hash, *report.Report](reportCacheSize)

// AnalyzeBatch fans the jobs out over the shared worker pool, one contiguous
// share of the batch per worker. Each job runs its full pipeline
// independently; cancellation of ctx aborts every pipeline at its next stage
// boundary. Results are returned in job order.
func AnalyzeBatch(ctx context.Context, jobs []Job, config *Config) []Result {
	if config == nil {
		config = DefaultConfig()
	}
	results := make([]Result, len(jobs))
	workers := gopool.Workers(len(jobs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * len(jobs) / workers
		end := (w + 1) * len(jobs) / workers
		if start == end {
			continue
		}
		wg.Add(1)
		run := func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				results[i] = runJob(ctx, jobs[i], config)
			}
		}
		if err := gopool.Submit(run); err != nil {
			// Pool saturated or released: run the share inline rather than
			// dropping it.
			run()
		}
	}
	wg.Wait()
	return results
}

func runJob(ctx context.Context, job Job, config *Config) Result {
	conf := *config
	if job.Layout != nil {
		conf.Layout = job.Layout
	}
	contract, err := Analyze(ctx, job.Code, &conf)
	if err != nil {
		log.Warn("analysis failed", "job", job.Name, "err", err)
	}
	return Result{Name: job.Name, Contract: contract, Err: err}
}

// CachedReport returns the memoized report for the bytecode, analyzing it on
// a miss. Only layout-free analyses are cached; a layout changes finding
// attribution, so those always run fresh. Returned reports are detached
// copies, so callers may mutate them without corrupting later hits.
func CachedReport(ctx context.Context, code []byte, config *Config) (*report.Report, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cacheable := config.Layout == nil
	var key common.Hash
	if cacheable {
		key = crypto.Keccak256Hash(code)
		if cached, ok := reportCache.Get(key); ok {
			cacheHitCounter.Inc(1)
			return cached.Copy(), nil
		}
	}
	contract, err := Analyze(ctx, code, config)
	if err != nil {
		return nil, err
	}
	rep := contract.Report()
	if cacheable && !contract.Aborted {
		reportCache.Add(key, rep)
		return rep.Copy(), nil
	}
	return rep, nil
}
