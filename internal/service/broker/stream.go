package broker

import (
	"context"
	"fmt"
	"time"

	"MarketScreener/internal/domain/models"

	"github.com/gorilla/websocket"
)

// ApplyFunc receives each live quote read from the stream.
type ApplyFunc func(models.Snapshot)

// Stream subscribes to the gateway's quote push channel and forwards live
// snapshots, typically used to keep priority-symbol cache entries warm
// between screening runs. Optional; the pipeline works without it.
type Stream struct {
	url            string
	symbols        []models.Symbol
	reconnectDelay time.Duration
	pingInterval   time.Duration
	apply          ApplyFunc
}

// NewStream creates a quote stream for the given symbols.
func NewStream(url string, symbols []models.Symbol, reconnectDelay, pingInterval time.Duration, apply ApplyFunc) *Stream {
	return &Stream{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		apply:          apply,
	}
}

type wsQuote struct {
	Symbol     string  `json:"symbol"`
	LastPrice  float64 `json:"last_price"`
	OpenPrice  float64 `json:"open_price"`
	HighPrice  float64 `json:"high_price"`
	LowPrice   float64 `json:"low_price"`
	PrevClose  float64 `json:"prev_close"`
	Volume     int64   `json:"volume"`
	Turnover   float64 `json:"turnover"`
	MarketCap  float64 `json:"market_cap"`
	ChangeRate float64 `json:"change_rate"`
}

type wsMessage struct {
	Type string    `json:"type"`
	Data []wsQuote `json:"data"`
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}

	for _, sym := range s.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": string(sym)}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	return conn, nil
}

// Run connects, reads until ctx is cancelled, and reconnects after transient
// failures. It returns nil on cancellation.
func (s *Stream) Run(ctx context.Context) error {
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.reconnectDelay):
				continue
			}
		}
		s.readLoop(ctx, conn)
		_ = conn.Close()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close() // unblocks ReadJSON
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "quote" {
			continue
		}
		now := time.Now()
		for _, q := range msg.Data {
			s.apply(models.Snapshot{
				Symbol:     models.Symbol(q.Symbol),
				LastPrice:  q.LastPrice,
				OpenPrice:  q.OpenPrice,
				HighPrice:  q.HighPrice,
				LowPrice:   q.LowPrice,
				PrevClose:  q.PrevClose,
				Volume:     q.Volume,
				Turnover:   q.Turnover,
				MarketCap:  q.MarketCap,
				ChangeRate: q.ChangeRate,
				CreatedAt:  now,
			})
		}
	}
}
