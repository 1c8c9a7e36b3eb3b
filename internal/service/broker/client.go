package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"MarketScreener/internal/domain/models"
	xhttp "MarketScreener/pkg/http"
)

// Client is a DataSource backed by a local broker gateway speaking JSON over
// HTTP (the gateway owns authentication and the session with the broker).
type Client struct {
	baseURL string
	http    *xhttp.Client
}

// NewClient creates a gateway client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type snapshotDTO struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	LastPrice  float64 `json:"last_price"`
	OpenPrice  float64 `json:"open_price"`
	HighPrice  float64 `json:"high_price"`
	LowPrice   float64 `json:"low_price"`
	PrevClose  float64 `json:"prev_close"`
	Volume     int64   `json:"volume"`
	Turnover   float64 `json:"turnover"`
	MarketCap  float64 `json:"market_cap"`
	ChangeRate float64 `json:"change_rate"`
	Suspended  bool    `json:"suspended"`
}

type snapshotResponse struct {
	Snapshots []snapshotDTO `json:"snapshots"`
}

type barDTO struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

type seriesResponse struct {
	Symbol string   `json:"symbol"`
	Bars   []barDTO `json:"bars"`
}

// FetchSnapshot returns current quotes for the given symbols. Symbols absent
// from the gateway response are simply missing from the result map.
func (c *Client) FetchSnapshot(ctx context.Context, symbols []models.Symbol) (map[models.Symbol]models.Snapshot, error) {
	if len(symbols) == 0 {
		return map[models.Symbol]models.Snapshot{}, nil
	}

	codes := make([]string, 0, len(symbols))
	for _, s := range symbols {
		codes = append(codes, string(s))
	}

	var body snapshotResponse
	if err := c.get(ctx, "snapshot", "/api/quote/snapshot", map[string][]string{
		"symbols": {strings.Join(codes, ",")},
	}, &body); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[models.Symbol]models.Snapshot, len(body.Snapshots))
	for _, dto := range body.Snapshots {
		sym := models.Symbol(dto.Symbol)
		out[sym] = models.Snapshot{
			Symbol:     sym,
			Name:       dto.Name,
			LastPrice:  dto.LastPrice,
			OpenPrice:  dto.OpenPrice,
			HighPrice:  dto.HighPrice,
			LowPrice:   dto.LowPrice,
			PrevClose:  dto.PrevClose,
			Volume:     dto.Volume,
			Turnover:   dto.Turnover,
			MarketCap:  dto.MarketCap,
			ChangeRate: dto.ChangeRate,
			Suspended:  dto.Suspended,
			CreatedAt:  now,
		}
	}
	return out, nil
}

// FetchSeries returns up to barCount daily bars for one symbol, oldest first.
func (c *Client) FetchSeries(ctx context.Context, symbol models.Symbol, barCount int) (models.Series, error) {
	var body seriesResponse
	if err := c.get(ctx, "series", "/api/quote/kline", map[string][]string{
		"symbol": {string(symbol)},
		"count":  {fmt.Sprintf("%d", barCount)},
	}, &body); err != nil {
		return models.Series{}, err
	}

	bars := make([]models.Bar, 0, len(body.Bars))
	for _, b := range body.Bars {
		bars = append(bars, models.Bar{
			Time:   time.Unix(b.Time, 0),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return models.Series{Symbol: symbol, Bars: bars}, nil
}

func (c *Client) get(ctx context.Context, op, path string, query map[string][]string, dest interface{}) error {
	resp, err := c.http.SendRequest(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: query,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Category: models.FailNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Category: classify(resp.StatusCode, string(raw)),
			Op:       op,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	if err := xhttp.DecodeJSON(resp.Body, dest); err != nil {
		return &Error{Category: models.FailProtocol, Op: op, Err: err}
	}
	return nil
}
