package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketScreener/internal/domain/models"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// quoteServer upgrades the connection, consumes the subscribe messages, pushes
// one quote batch, and then services reads (and thereby pings) until the
// client goes away.
func quoteServer(t *testing.T, symbols int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for i := 0; i < symbols; i++ {
			var sub map[string]string
			if err := conn.ReadJSON(&sub); err != nil {
				return
			}
			if sub["type"] != "subscribe" {
				t.Errorf("expected subscribe message, got %v", sub)
			}
		}

		_ = conn.WriteJSON(wsMessage{Type: "quote", Data: []wsQuote{
			{Symbol: "HK.00700", LastPrice: 321.5, Volume: 1_000_000},
		}})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamDeliversQuotesAndStopsOnCancel(t *testing.T) {
	srv := quoteServer(t, 1)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	applied := make(chan models.Snapshot, 1)
	s := NewStream(url, []models.Symbol{"HK.00700"}, 10*time.Millisecond, 5*time.Millisecond, func(snap models.Snapshot) {
		select {
		case applied <- snap:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case snap := <-applied:
		if snap.Symbol != "HK.00700" || snap.LastPrice != 321.5 {
			t.Errorf("applied snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no quote delivered")
	}

	// Let the ping goroutine fire at least once before shutting down.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancellation, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestStreamReconnectsAfterServerDrop(t *testing.T) {
	srv := quoteServer(t, 1)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	applied := make(chan models.Snapshot, 4)
	s := NewStream(url, []models.Symbol{"HK.00700"}, 10*time.Millisecond, 50*time.Millisecond, func(snap models.Snapshot) {
		select {
		case applied <- snap:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("no quote before drop")
	}

	// Kill every open connection; the stream should dial again and resume.
	srv.CloseClientConnections()

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("no quote after reconnect")
	}

	srv.Close()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
