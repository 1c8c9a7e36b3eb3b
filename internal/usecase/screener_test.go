package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/domain/repository"
	"MarketScreener/internal/service/broker"
	"MarketScreener/internal/service/cache"
	"MarketScreener/internal/service/ratelimit"
)

// stubSource serves canned per-symbol data so stage predicates can be tested
// against exact values.
type stubSource struct {
	snaps     map[models.Symbol]models.Snapshot
	series    map[models.Symbol]models.Series
	seriesErr map[models.Symbol]error

	mu          sync.Mutex
	snapCalls   int
	seriesCalls int
}

func (s *stubSource) FetchSnapshot(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]models.Snapshot, error) {
	s.mu.Lock()
	s.snapCalls++
	s.mu.Unlock()
	out := make(map[models.Symbol]models.Snapshot, len(symbols))
	for _, sym := range symbols {
		if snap, ok := s.snaps[sym]; ok {
			out[sym] = snap
		}
	}
	return out, nil
}

func (s *stubSource) FetchSeries(ctx context.Context, symbol models.Symbol, barCount int) (models.Series, error) {
	s.mu.Lock()
	s.seriesCalls++
	s.mu.Unlock()
	if err, ok := s.seriesErr[symbol]; ok {
		return models.Series{}, err
	}
	if ser, ok := s.series[symbol]; ok {
		return ser, nil
	}
	return models.Series{Symbol: symbol, Bars: flatBars(barCount)}, nil
}

func (s *stubSource) calls() (snap, series int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapCalls, s.seriesCalls
}

func flatBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{Close: 10, Volume: 3_000_000}
	}
	return bars
}

func passingSnapshot(sym models.Symbol) models.Snapshot {
	return models.Snapshot{
		Symbol:     sym,
		LastPrice:  5,
		Volume:     5_000_000,
		MarketCap:  1e9,
		ChangeRate: 0.03,
	}
}

func defaultScreenerConfig() ScreenerConfig {
	return ScreenerConfig{
		UniverseCap: 2000,
		MaxSelected: 10,
		MinBars:     20,
		Filter: FilterConfig{
			MinPrice:           0.1,
			MinVolume:          2_000_000,
			MinMarketCap:       2e8,
			MaxChangeRate:      0.15,
			DerivativePrefixes: []string{"810", "441", "457", "458", "459", "883", "884"},
		},
	}
}

func newTestScreener(t *testing.T, cfg ScreenerConfig, source repository.DataSource, score repository.ScoreFunc) *Screener {
	t.Helper()
	limiter, err := ratelimit.New(1000, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	pipeline, err := NewFetchPipeline(PipelineConfig{
		Workers:      4,
		BatchSize:    10,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		SnapshotTTL:  time.Minute,
		SeriesTTL:    time.Minute,
		BarCount:     30,
	}, source, limiter, cache.New[models.Snapshot](), cache.New[models.Series](), nopMetrics{})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	s, err := NewScreener(cfg, pipeline, score, nopMetrics{})
	if err != nil {
		t.Fatalf("screener: %v", err)
	}
	return s
}

func TestCoarseFilterBoundaries(t *testing.T) {
	cfg := defaultScreenerConfig()
	source := &stubSource{snaps: map[models.Symbol]models.Snapshot{}}

	atPrice := passingSnapshot("HK.00001")
	atPrice.LastPrice = cfg.Filter.MinPrice // floor is inclusive
	atVolume := passingSnapshot("HK.00002")
	atVolume.Volume = cfg.Filter.MinVolume
	atMcap := passingSnapshot("HK.00003")
	atMcap.MarketCap = cfg.Filter.MinMarketCap
	atCap := passingSnapshot("HK.00004")
	atCap.ChangeRate = cfg.Filter.MaxChangeRate // cap is exclusive
	belowPrice := passingSnapshot("HK.00005")
	belowPrice.LastPrice = cfg.Filter.MinPrice / 2
	suspended := passingSnapshot("HK.00006")
	suspended.Suspended = true
	negMove := passingSnapshot("HK.00007")
	negMove.ChangeRate = -0.2
	belowVolume := passingSnapshot("HK.00008")
	belowVolume.Volume = cfg.Filter.MinVolume - 1
	belowMcap := passingSnapshot("HK.00009")
	belowMcap.MarketCap = cfg.Filter.MinMarketCap - 1
	aboveVolume := passingSnapshot("HK.00010")
	aboveVolume.Volume = cfg.Filter.MinVolume + 1
	derivative := passingSnapshot("HK.81001")

	for _, snap := range []models.Snapshot{
		atPrice, atVolume, atMcap, atCap, belowPrice, suspended,
		negMove, belowVolume, belowMcap, aboveVolume, derivative,
	} {
		source.snaps[snap.Symbol] = snap
	}

	universe := []models.Symbol{
		"HK.00001", "HK.00002", "HK.00003", "HK.00004",
		"HK.00005", "HK.00006", "HK.00007", "HK.00008",
		"HK.00009", "HK.00010", "HK.81001",
	}
	s := newTestScreener(t, cfg, source, nil)
	selected, stats, err := s.Run(context.Background(), universe)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.CoarseSurvivors != 4 {
		t.Errorf("coarse survivors = %d, want 4", stats.CoarseSurvivors)
	}
	want := map[models.Symbol]bool{"HK.00001": true, "HK.00002": true, "HK.00003": true, "HK.00010": true}
	for _, c := range selected {
		if !want[c.Symbol] {
			t.Errorf("unexpected survivor %s", c.Symbol)
		}
	}
	for reason, n := range map[string]int{
		"change_rate": 2,
		"price":       1,
		"volume":      1,
		"market_cap":  1,
		"suspended":   1,
		"derivative":  1,
	} {
		if stats.CoarseRejections[reason] != n {
			t.Errorf("rejections[%s] = %d, want %d", reason, stats.CoarseRejections[reason], n)
		}
	}
}

func TestPriorityMergedAheadAndCapApplied(t *testing.T) {
	cfg := defaultScreenerConfig()
	cfg.UniverseCap = 3
	cfg.Priority = []models.Symbol{"HK.09999", "HK.00001"}

	source := &stubSource{snaps: map[models.Symbol]models.Snapshot{}}
	for _, sym := range []models.Symbol{"HK.09999", "HK.00001", "HK.00002", "HK.00003"} {
		source.snaps[sym] = passingSnapshot(sym)
	}

	s := newTestScreener(t, cfg, source, nil)
	selected, stats, err := s.Run(context.Background(), []models.Symbol{"HK.00001", "HK.00002", "HK.00003"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Priority symbols occupy the head, dedup keeps one HK.00001, the cap
	// drops HK.00003.
	if stats.UniverseSize != 3 {
		t.Fatalf("universe size = %d, want 3", stats.UniverseSize)
	}
	got := make(map[models.Symbol]bool)
	for _, c := range selected {
		got[c.Symbol] = true
	}
	if got["HK.00003"] {
		t.Error("HK.00003 should have been dropped by the universe cap")
	}
	for _, c := range selected {
		if c.Symbol == "HK.09999" && !c.Priority {
			t.Error("priority symbol not flagged")
		}
	}
}

func TestRankingOrderAndTruncation(t *testing.T) {
	cfg := defaultScreenerConfig()
	cfg.MaxSelected = 2

	source := &stubSource{snaps: map[models.Symbol]models.Snapshot{}}
	universe := []models.Symbol{"HK.00001", "HK.00002", "HK.00003", "HK.00004"}
	for _, sym := range universe {
		source.snaps[sym] = passingSnapshot(sym)
	}

	scores := map[models.Symbol]float64{
		"HK.00001": 40,
		"HK.00002": 70,
		"HK.00003": 70,
		"HK.00004": 55,
	}
	score := func(snap models.Snapshot, series models.Series) (float64, string) {
		return scores[snap.Symbol], "fixed"
	}

	s := newTestScreener(t, cfg, source, score)
	selected, stats, err := s.Run(context.Background(), universe)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.DetailSurvivors != 4 {
		t.Errorf("detail survivors = %d, want 4", stats.DetailSurvivors)
	}
	if len(selected) != 2 {
		t.Fatalf("selected %d, want 2", len(selected))
	}
	// Equal scores break ties by lexical symbol order.
	if selected[0].Symbol != "HK.00002" || selected[1].Symbol != "HK.00003" {
		t.Errorf("order = [%s %s], want [HK.00002 HK.00003]", selected[0].Symbol, selected[1].Symbol)
	}
}

func TestDetailStageRequiresMinimumBars(t *testing.T) {
	cfg := defaultScreenerConfig()
	cfg.MinBars = 20

	source := &stubSource{
		snaps: map[models.Symbol]models.Snapshot{
			"HK.00001": passingSnapshot("HK.00001"),
			"HK.00002": passingSnapshot("HK.00002"),
		},
		series: map[models.Symbol]models.Series{
			"HK.00002": {Symbol: "HK.00002", Bars: flatBars(5)}, // freshly listed
		},
	}

	s := newTestScreener(t, cfg, source, nil)
	selected, stats, err := s.Run(context.Background(), []models.Symbol{"HK.00001", "HK.00002"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.DetailSurvivors != 1 {
		t.Errorf("detail survivors = %d, want 1", stats.DetailSurvivors)
	}
	if len(selected) != 1 || selected[0].Symbol != "HK.00001" {
		t.Errorf("selected = %+v, want only HK.00001", selected)
	}
}

func TestSeriesFailureShrinksCandidateSet(t *testing.T) {
	cfg := defaultScreenerConfig()
	source := &stubSource{
		snaps: map[models.Symbol]models.Snapshot{
			"HK.00001": passingSnapshot("HK.00001"),
			"HK.00002": passingSnapshot("HK.00002"),
		},
		seriesErr: map[models.Symbol]error{
			"HK.00002": &broker.Error{Category: models.FailQuota, Op: "series", Err: errors.New("quota exceeded")},
		},
	}

	s := newTestScreener(t, cfg, source, nil)
	selected, stats, err := s.Run(context.Background(), []models.Symbol{"HK.00001", "HK.00002"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(selected) != 1 || selected[0].Symbol != "HK.00001" {
		t.Errorf("selected = %+v, want only HK.00001", selected)
	}
	if stats.SoftFailsByCategory[models.FailQuota] != 1 {
		t.Errorf("soft fails = %v, want one quota entry", stats.SoftFailsByCategory)
	}
}

func TestRunStatsAreConsistent(t *testing.T) {
	cfg := defaultScreenerConfig()
	source := &stubSource{snaps: map[models.Symbol]models.Snapshot{}}
	universe := make([]models.Symbol, 0, 6)
	for _, sym := range []models.Symbol{"HK.00001", "HK.00002", "HK.00003"} {
		source.snaps[sym] = passingSnapshot(sym)
		universe = append(universe, sym)
	}
	rejected := passingSnapshot("HK.00004")
	rejected.LastPrice = 0.01
	source.snaps["HK.00004"] = rejected
	universe = append(universe, "HK.00004")

	s := newTestScreener(t, cfg, source, nil)
	selected, stats, err := s.Run(context.Background(), universe)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.UniverseSize != 4 || stats.CoarseSurvivors != 3 {
		t.Errorf("stats = %+v, want universe 4 and 3 coarse survivors", stats)
	}
	if stats.SelectedCount != len(selected) {
		t.Errorf("SelectedCount %d != len(selected) %d", stats.SelectedCount, len(selected))
	}
	if stats.DetailSurvivors < stats.SelectedCount {
		t.Error("detail survivors cannot be fewer than selected")
	}
	// 4 snapshot fetches + 3 series fetches, all cold.
	if stats.CacheMisses != 7 {
		t.Errorf("cache misses = %d, want 7", stats.CacheMisses)
	}
	if stats.Elapsed <= 0 {
		t.Error("elapsed not recorded")
	}
}

// A second run within the TTLs must reproduce the first run's ranked output
// without a single additional upstream call.
func TestSecondRunWithinTTLIsIdentical(t *testing.T) {
	cfg := defaultScreenerConfig()
	source := &stubSource{snaps: map[models.Symbol]models.Snapshot{}}
	universe := []models.Symbol{"HK.00001", "HK.00002", "HK.00003", "HK.00004"}
	for _, sym := range universe {
		source.snaps[sym] = passingSnapshot(sym)
	}

	s := newTestScreener(t, cfg, source, nil)

	first, firstStats, err := s.Run(context.Background(), universe)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	snapCalls, seriesCalls := source.calls()

	second, secondStats, err := s.Run(context.Background(), universe)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second run selection differs:\nfirst  = %+v\nsecond = %+v", first, second)
	}
	snapCalls2, seriesCalls2 := source.calls()
	if snapCalls2 != snapCalls || seriesCalls2 != seriesCalls {
		t.Errorf("second run reached upstream: snapshots %d -> %d, series %d -> %d",
			snapCalls, snapCalls2, seriesCalls, seriesCalls2)
	}
	if secondStats.CacheMisses != 0 {
		t.Errorf("second run cache misses = %d, want 0", secondStats.CacheMisses)
	}
	if secondStats.CacheHits != firstStats.CacheMisses {
		t.Errorf("second run hits = %d, want %d (every first-run miss now cached)",
			secondStats.CacheHits, firstStats.CacheMisses)
	}
}
