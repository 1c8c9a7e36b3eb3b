package models

import "time"

// Symbol identifies an instrument (market prefix plus code, e.g. "HK.00700").
type Symbol string

// Snapshot is a point-in-time quote for one symbol. Immutable after creation.
type Snapshot struct {
	Symbol     Symbol    `json:"symbol"`
	Name       string    `json:"name,omitempty"`
	LastPrice  float64   `json:"last_price"`
	OpenPrice  float64   `json:"open_price"`
	HighPrice  float64   `json:"high_price"`
	LowPrice   float64   `json:"low_price"`
	PrevClose  float64   `json:"prev_close"`
	Volume     int64     `json:"volume"`
	Turnover   float64   `json:"turnover"`
	MarketCap  float64   `json:"market_cap"`
	ChangeRate float64   `json:"change_rate"`
	Suspended  bool      `json:"suspended"`
	CreatedAt  time.Time `json:"created_at"`
}

// Amplitude returns the intraday high-low range relative to the previous close.
func (s Snapshot) Amplitude() float64 {
	if s.PrevClose <= 0 {
		return 0
	}
	return (s.HighPrice - s.LowPrice) / s.PrevClose
}

// Bar is one OHLCV period.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series is an ordered sequence of bars for one symbol, oldest first.
// Immutable once fetched.
type Series struct {
	Symbol Symbol `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Momentum returns the relative close-to-close change over the trailing n bars,
// or 0 when the series is too short.
func (s Series) Momentum(n int) float64 {
	if n <= 0 || len(s.Bars) < n+1 {
		return 0
	}
	ref := s.Bars[len(s.Bars)-1-n].Close
	if ref <= 0 {
		return 0
	}
	return (s.Bars[len(s.Bars)-1].Close - ref) / ref
}

// AvgVolume returns the mean bar volume, or 0 for an empty series.
func (s Series) AvgVolume() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	var sum int64
	for _, b := range s.Bars {
		sum += b.Volume
	}
	return float64(sum) / float64(len(s.Bars))
}

// Candidate is a symbol surviving the coarse stage. Stages only append data;
// already-recorded fields are never mutated.
type Candidate struct {
	Symbol   Symbol   `json:"symbol"`
	Name     string   `json:"name,omitempty"`
	Priority bool     `json:"priority"`
	Snapshot Snapshot `json:"snapshot"`
	Series   Series   `json:"series,omitempty"`
	Score    float64  `json:"score"`
	Reason   string   `json:"reason,omitempty"`
}

// RunStats summarizes one screening run for the surrounding application.
type RunStats struct {
	RunAt               time.Time            `json:"run_at"`
	UniverseSize        int                  `json:"universe_size"`
	CoarseSurvivors     int                  `json:"coarse_survivors"`
	DetailSurvivors     int                  `json:"detail_survivors"`
	SelectedCount       int                  `json:"selected_count"`
	CacheHits           int64                `json:"cache_hits"`
	CacheMisses         int64                `json:"cache_misses"`
	Retries             int                  `json:"retries"`
	SoftFailsByCategory map[FailCategory]int `json:"soft_fails_by_category"`
	CoarseRejections    map[string]int       `json:"coarse_rejections"`
	Elapsed             time.Duration        `json:"elapsed"`
}

// SelectionReport is the payload published after a completed run.
type SelectionReport struct {
	RunAt    time.Time   `json:"run_at"`
	Selected []Candidate `json:"selected"`
	Stats    RunStats    `json:"stats"`
}
