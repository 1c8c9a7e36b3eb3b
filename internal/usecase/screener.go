package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
)

// FilterConfig holds the coarse-stage thresholds. All floors are inclusive:
// a value equal to the floor is retained. The change-rate cap is exclusive:
// |change rate| equal to the cap is rejected.
type FilterConfig struct {
	MinPrice           float64
	MinVolume          int64
	MinMarketCap       float64
	MaxChangeRate      float64
	DerivativePrefixes []string
}

// ScreenerConfig bounds one screener's universe and detail-stage criteria.
type ScreenerConfig struct {
	UniverseCap    int
	MaxSelected    int
	MinBars        int
	MinVolumeRatio float64
	Filter         FilterConfig
	Priority       []models.Symbol
}

func (c ScreenerConfig) validate() error {
	switch {
	case c.UniverseCap <= 0:
		return fmt.Errorf("screener: universe cap must be positive, got %d", c.UniverseCap)
	case c.MaxSelected <= 0:
		return fmt.Errorf("screener: max selected must be positive, got %d", c.MaxSelected)
	case c.MinBars <= 0:
		return fmt.Errorf("screener: min bars must be positive, got %d", c.MinBars)
	case c.Filter.MaxChangeRate <= 0:
		return fmt.Errorf("screener: max change rate must be positive, got %f", c.Filter.MaxChangeRate)
	}
	return nil
}

// Screener reduces a symbol universe to a ranked shortlist in ordered stages,
// fetching only the data tier each stage needs: snapshots for the whole
// universe, series only for coarse survivors.
type Screener struct {
	pipeline *FetchPipeline
	score    repository.ScoreFunc
	metrics  repository.Metrics
	cfg      ScreenerConfig

	mu           sync.Mutex
	lastStats    models.RunStats
	lastSelected []models.Candidate
	hasRun       bool
}

// NewScreener validates cfg and assembles a screener. score ranks detail
// survivors; DefaultScore is used when nil.
func NewScreener(cfg ScreenerConfig, pipeline *FetchPipeline, score repository.ScoreFunc, metrics repository.Metrics) (*Screener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pipeline == nil || metrics == nil {
		return nil, fmt.Errorf("screener: nil dependency")
	}
	if score == nil {
		score = DefaultScore
	}
	return &Screener{pipeline: pipeline, score: score, metrics: metrics, cfg: cfg}, nil
}

// Run executes one full screening pass: universe -> coarse filter on snapshot
// fields -> series fetch for survivors -> detail filter -> score, rank, and
// truncate. Per-symbol upstream failures only shrink the candidate set; the
// run completes with whatever data arrived unless ctx is cancelled.
func (s *Screener) Run(ctx context.Context, universe []models.Symbol) ([]models.Candidate, models.RunStats, error) {
	start := time.Now()
	stats := models.RunStats{
		RunAt:               start,
		SoftFailsByCategory: make(map[models.FailCategory]int),
		CoarseRejections:    make(map[string]int),
	}

	universe = s.buildUniverse(universe)
	stats.UniverseSize = len(universe)
	s.metrics.RecordStage("universe", len(universe))

	snapResults, pstats, err := s.pipeline.Run(ctx, universe, models.FetchSnapshots)
	s.mergePipeline(&stats, pstats)
	if err != nil {
		return nil, stats, err
	}

	priority := make(map[models.Symbol]bool, len(s.cfg.Priority))
	for _, sym := range s.cfg.Priority {
		priority[sym] = true
	}

	candidates := s.coarseFilter(snapResults, priority, &stats)
	stats.CoarseSurvivors = len(candidates)
	s.metrics.RecordStage("coarse", len(candidates))

	survivors := make([]models.Symbol, 0, len(candidates))
	bySymbol := make(map[models.Symbol]*models.Candidate, len(candidates))
	for i := range candidates {
		survivors = append(survivors, candidates[i].Symbol)
		bySymbol[candidates[i].Symbol] = &candidates[i]
	}

	seriesResults, pstats, err := s.pipeline.Run(ctx, survivors, models.FetchSeries)
	s.mergePipeline(&stats, pstats)
	if err != nil {
		return nil, stats, err
	}

	detailed := s.detailFilter(seriesResults, bySymbol)
	stats.DetailSurvivors = len(detailed)
	s.metrics.RecordStage("detail", len(detailed))

	selected := s.rank(detailed)
	stats.SelectedCount = len(selected)
	s.metrics.RecordStage("selected", len(selected))

	stats.Elapsed = time.Since(start)
	s.metrics.RecordRunDuration(stats.Elapsed.Seconds())

	s.mu.Lock()
	s.lastStats = stats
	s.lastSelected = selected
	s.hasRun = true
	s.mu.Unlock()

	return selected, stats, nil
}

// Last returns the most recent completed run's selection and stats. ok is
// false before the first completed run.
func (s *Screener) Last() (selected []models.Candidate, stats models.RunStats, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSelected, s.lastStats, s.hasRun
}

// buildUniverse merges priority symbols ahead of the regular universe,
// removes duplicates, and applies the cap.
func (s *Screener) buildUniverse(universe []models.Symbol) []models.Symbol {
	merged := make([]models.Symbol, 0, len(s.cfg.Priority)+len(universe))
	seen := make(map[models.Symbol]bool, len(universe))
	for _, sym := range s.cfg.Priority {
		if !seen[sym] {
			seen[sym] = true
			merged = append(merged, sym)
		}
	}
	for _, sym := range universe {
		if !seen[sym] {
			seen[sym] = true
			merged = append(merged, sym)
		}
	}
	if len(merged) > s.cfg.UniverseCap {
		merged = merged[:s.cfg.UniverseCap]
	}
	return merged
}

// coarseFilter applies snapshot-only predicates. Soft-failed symbols were
// already counted by the pipeline and are skipped here.
func (s *Screener) coarseFilter(results []models.SymbolResult, priority map[models.Symbol]bool, stats *models.RunStats) []models.Candidate {
	f := s.cfg.Filter
	candidates := make([]models.Candidate, 0, len(results))

	for _, r := range results {
		if !r.OK() {
			continue
		}
		snap := *r.Snapshot
		switch {
		case snap.Suspended:
			stats.CoarseRejections["suspended"]++
		case s.isDerivative(snap.Symbol):
			stats.CoarseRejections["derivative"]++
		case snap.LastPrice < f.MinPrice:
			stats.CoarseRejections["price"]++
		case snap.Volume < f.MinVolume:
			stats.CoarseRejections["volume"]++
		case snap.MarketCap < f.MinMarketCap:
			stats.CoarseRejections["market_cap"]++
		case abs(snap.ChangeRate) >= f.MaxChangeRate:
			stats.CoarseRejections["change_rate"]++
		default:
			candidates = append(candidates, models.Candidate{
				Symbol:   snap.Symbol,
				Name:     snap.Name,
				Priority: priority[snap.Symbol],
				Snapshot: snap,
			})
		}
	}
	return candidates
}

// detailFilter applies series-derived predicates to coarse survivors whose
// series fetch succeeded, enriching the surviving candidates.
func (s *Screener) detailFilter(results []models.SymbolResult, candidates map[models.Symbol]*models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			continue
		}
		cand, ok := candidates[r.Symbol]
		if !ok {
			continue
		}
		series := *r.Series
		if len(series.Bars) < s.cfg.MinBars {
			continue
		}
		if s.cfg.MinVolumeRatio > 0 {
			avg := series.AvgVolume()
			if avg <= 0 || float64(cand.Snapshot.Volume)/avg < s.cfg.MinVolumeRatio {
				continue
			}
		}
		enriched := *cand
		enriched.Series = series
		out = append(out, enriched)
	}
	return out
}

// rank scores, sorts descending with lexical symbol order as the tie break,
// and truncates to the configured maximum.
func (s *Screener) rank(candidates []models.Candidate) []models.Candidate {
	for i := range candidates {
		candidates[i].Score, candidates[i].Reason = s.score(candidates[i].Snapshot, candidates[i].Series)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Symbol < candidates[j].Symbol
	})
	if len(candidates) > s.cfg.MaxSelected {
		candidates = candidates[:s.cfg.MaxSelected]
	}
	return candidates
}

func (s *Screener) isDerivative(sym models.Symbol) bool {
	code := string(sym)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[i+1:]
	}
	for _, prefix := range s.cfg.Filter.DerivativePrefixes {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

func (s *Screener) mergePipeline(stats *models.RunStats, p models.PipelineStats) {
	stats.CacheHits += p.CacheHits
	stats.CacheMisses += p.CacheMisses
	stats.Retries += p.Retries
	for cat, n := range p.SoftFails {
		stats.SoftFailsByCategory[cat] += n
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
