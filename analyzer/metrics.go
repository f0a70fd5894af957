package analyzer

import "github.com/ethereum/go-ethereum/metrics"

var (
	analysisCounter   = metrics.NewRegisteredCounter("analyzer/analyses", nil)
	cacheHitCounter   = metrics.NewRegisteredCounter("analyzer/cache/hits", nil)
	unresolvedCounter = metrics.NewRegisteredCounter("analyzer/jumps/unresolved", nil)
)
