package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
	"MarketScreener/internal/service/broker"
	"MarketScreener/internal/service/cache"
	"MarketScreener/internal/service/ratelimit"
)

// PipelineConfig bounds one pipeline's concurrency and retry behavior.
// Validated once at construction; the pipeline itself never re-checks.
type PipelineConfig struct {
	Workers      int
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	SnapshotTTL  time.Duration
	SeriesTTL    time.Duration
	BarCount     int
}

func (c PipelineConfig) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("pipeline: workers must be positive, got %d", c.Workers)
	case c.BatchSize <= 0:
		return fmt.Errorf("pipeline: batch size must be positive, got %d", c.BatchSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("pipeline: max retries must not be negative, got %d", c.MaxRetries)
	case c.RetryBackoff <= 0:
		return fmt.Errorf("pipeline: retry backoff must be positive, got %s", c.RetryBackoff)
	case c.SnapshotTTL <= 0 || c.SeriesTTL <= 0:
		return fmt.Errorf("pipeline: TTLs must be positive")
	case c.BarCount <= 0:
		return fmt.Errorf("pipeline: bar count must be positive, got %d", c.BarCount)
	}
	return nil
}

// FetchPipeline turns a symbol list plus a fetch kind into per-symbol
// results using a bounded worker pool. Every upstream call goes through the
// shared cache (request collapsing) and the shared rate limiter; per-symbol
// failures become soft results, never a run failure.
type FetchPipeline struct {
	source    repository.DataSource
	limiter   *ratelimit.Limiter
	snapshots *cache.Cache[models.Snapshot]
	series    *cache.Cache[models.Series]
	metrics   repository.Metrics
	cfg       PipelineConfig
}

// NewFetchPipeline validates cfg and assembles a pipeline. The limiter and
// caches are shared handles owned by the caller; pool lifetime is scoped to
// each Run call.
func NewFetchPipeline(
	cfg PipelineConfig,
	source repository.DataSource,
	limiter *ratelimit.Limiter,
	snapshots *cache.Cache[models.Snapshot],
	series *cache.Cache[models.Series],
	metrics repository.Metrics,
) (*FetchPipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if source == nil || limiter == nil || snapshots == nil || series == nil || metrics == nil {
		return nil, fmt.Errorf("pipeline: nil dependency")
	}
	return &FetchPipeline{
		source:    source,
		limiter:   limiter,
		snapshots: snapshots,
		series:    series,
		metrics:   metrics,
		cfg:       cfg,
	}, nil
}

type fetchOutcome struct {
	res     models.SymbolResult
	hit     bool
	miss    bool
	retries int
}

// Run fetches the requested data tier for every symbol. It returns one result
// per input symbol in unspecified order; on cancellation it returns the
// results gathered so far together with ctx.Err(). In-flight calls finish
// before their worker stops, so the limiter accounting stays intact.
func (p *FetchPipeline) Run(ctx context.Context, symbols []models.Symbol, kind models.FetchKind) ([]models.SymbolResult, models.PipelineStats, error) {
	stats := models.PipelineStats{SoftFails: make(map[models.FailCategory]int)}
	if len(symbols) == 0 {
		return nil, stats, nil
	}

	workers := p.cfg.Workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan []models.Symbol)
	out := make(chan fetchOutcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				for _, sym := range batch {
					if ctx.Err() != nil {
						return
					}
					o, ok := p.fetchOne(ctx, sym, kind)
					if ok {
						out <- o
					}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, batch := range partition(symbols, p.cfg.BatchSize) {
			select {
			case jobs <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	results := make([]models.SymbolResult, 0, len(symbols))
	for o := range out {
		results = append(results, o.res)
		stats.Retries += o.retries
		if o.hit {
			stats.CacheHits++
		}
		if o.miss {
			stats.CacheMisses++
		}
		p.metrics.RecordCache(o.hit)
		if o.res.Err != nil {
			stats.SoftFails[o.res.Category]++
			p.metrics.RecordSoftFail(string(o.res.Category))
			p.metrics.RecordFetch(kind.String(), "soft_fail")
		} else {
			p.metrics.RecordFetch(kind.String(), "ok")
		}
	}

	if err := ctx.Err(); err != nil {
		return results, stats, err
	}
	return results, stats, nil
}

// fetchOne resolves one symbol through cache, limiter, and source, retrying
// retryable categories with doubling backoff. ok is false when the attempt
// was abandoned due to cancellation; such symbols produce no result.
func (p *FetchPipeline) fetchOne(ctx context.Context, sym models.Symbol, kind models.FetchKind) (fetchOutcome, bool) {
	var out fetchOutcome
	out.res.Symbol = sym

	backoff := p.cfg.RetryBackoff
	upstream := false // true once any attempt reached the source

	for attempt := 0; ; attempt++ {
		invoked := false
		var err error

		switch kind {
		case models.FetchSnapshots:
			var snap models.Snapshot
			snap, err = p.snapshots.GetOrFetch(ctx, string(sym), p.cfg.SnapshotTTL, func(ctx context.Context) (models.Snapshot, error) {
				invoked = true
				if aerr := p.acquire(ctx); aerr != nil {
					return models.Snapshot{}, aerr
				}
				m, ferr := p.source.FetchSnapshot(ctx, []models.Symbol{sym})
				if ferr != nil {
					return models.Snapshot{}, ferr
				}
				s, found := m[sym]
				if !found {
					return models.Snapshot{}, &broker.Error{
						Category: models.FailProtocol,
						Op:       "snapshot",
						Err:      fmt.Errorf("symbol %s missing from response", sym),
					}
				}
				return s, nil
			})
			if err == nil {
				out.res.Snapshot = &snap
			}
		case models.FetchSeries:
			var ser models.Series
			ser, err = p.series.GetOrFetch(ctx, string(sym), p.cfg.SeriesTTL, func(ctx context.Context) (models.Series, error) {
				invoked = true
				if aerr := p.acquire(ctx); aerr != nil {
					return models.Series{}, aerr
				}
				return p.source.FetchSeries(ctx, sym, p.cfg.BarCount)
			})
			if err == nil {
				out.res.Series = &ser
			}
		}

		upstream = upstream || invoked

		if err == nil {
			out.hit = !upstream
			out.miss = upstream
			return out, true
		}
		if ctx.Err() != nil {
			return out, false
		}

		cat, known := broker.Categorize(err)
		if !known {
			cat = models.FailNetwork
		}
		if cat.Retryable() && attempt < p.cfg.MaxRetries {
			out.retries++
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return out, false
			}
			backoff *= 2
			continue
		}

		out.miss = upstream
		out.res.Err = err
		out.res.Category = cat
		return out, true
	}
}

func (p *FetchPipeline) acquire(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Acquire(ctx); err != nil {
		return err
	}
	p.metrics.RecordAcquireWait(time.Since(start).Seconds())
	return nil
}

func partition(symbols []models.Symbol, size int) [][]models.Symbol {
	batches := make([][]models.Symbol, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}
	return batches
}
