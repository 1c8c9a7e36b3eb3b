package models

// FetchKind selects which data tier a pipeline run acquires.
type FetchKind int

const (
	FetchSnapshots FetchKind = iota
	FetchSeries
)

func (k FetchKind) String() string {
	switch k {
	case FetchSnapshots:
		return "snapshot"
	case FetchSeries:
		return "series"
	default:
		return "unknown"
	}
}

// FailCategory classifies an upstream failure. Only the broker boundary assigns
// categories; everything above it switches on the category, never on error text.
type FailCategory string

const (
	FailThrottled FailCategory = "throttled"
	FailQuota     FailCategory = "quota_exhausted"
	FailNetwork   FailCategory = "network"
	FailProtocol  FailCategory = "protocol"
)

// Retryable reports whether a failure of this category may succeed on retry.
// Quota exhaustion holds for the rest of the run; protocol errors will not
// repair themselves by repeating the same request.
func (c FailCategory) Retryable() bool {
	return c == FailThrottled || c == FailNetwork
}

// SymbolResult is one per-symbol pipeline outcome. Err nil means data for the
// requested kind is populated; Err non-nil means the symbol soft-failed and
// Category says why.
type SymbolResult struct {
	Symbol   Symbol
	Snapshot *Snapshot
	Series   *Series
	Err      error
	Category FailCategory
}

// OK reports whether the fetch succeeded.
func (r SymbolResult) OK() bool { return r.Err == nil }

// PipelineStats aggregates counters for one pipeline run.
type PipelineStats struct {
	CacheHits   int64
	CacheMisses int64
	Retries     int
	SoftFails   map[FailCategory]int
}

// Merge adds other's counters into s.
func (s *PipelineStats) Merge(other PipelineStats) {
	s.CacheHits += other.CacheHits
	s.CacheMisses += other.CacheMisses
	s.Retries += other.Retries
	if s.SoftFails == nil {
		s.SoftFails = make(map[FailCategory]int)
	}
	for cat, n := range other.SoftFails {
		s.SoftFails[cat] += n
	}
}
