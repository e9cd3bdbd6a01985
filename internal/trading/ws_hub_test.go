package trading_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/batr/trading-engine/internal/market"
	"github.com/batr/trading-engine/internal/model"
	"github.com/batr/trading-engine/internal/trading"
)

// newWSEnv starts a hub over httptest, seeds the history, and dials one
// client. The returned connection has already completed the upgrade.
func newWSEnv(t *testing.T, samples ...model.PriceSample) (*trading.WSHub, *websocket.Conn) {
	t.Helper()

	history := market.NewHistory(market.DefaultHistoryCapacity)
	for _, s := range samples {
		history.Append(s)
	}
	hub := trading.NewWSHub(history)
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return data
}

func TestWSSnapshotOnConnect(t *testing.T) {
	_, conn := newWSEnv(t,
		model.PriceSample{Price: 100, Timestamp: 1000},
		model.PriceSample{Price: 101, Timestamp: 2000},
		model.PriceSample{Price: 102, Timestamp: 3000},
	)

	var snapshot trading.PriceUpdate
	if err := json.Unmarshal(readFrame(t, conn), &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	if snapshot.Price != 102 || snapshot.Timestamp != 3000 {
		t.Errorf("snapshot = %+v, want latest price 102 at 3000", snapshot)
	}
	want := []float64{100, 101, 102}
	if len(snapshot.History) != len(want) {
		t.Fatalf("history length = %d, want %d", len(snapshot.History), len(want))
	}
	for i, p := range want {
		if snapshot.History[i] != p {
			t.Errorf("history[%d] = %v, want %v (oldest first)", i, snapshot.History[i], p)
		}
	}
}

func TestWSTickFrameOmitsHistory(t *testing.T) {
	hub, conn := newWSEnv(t, model.PriceSample{Price: 100, Timestamp: 1000})

	// Consume the connect snapshot; registration is complete once it
	// has been delivered.
	readFrame(t, conn)

	hub.BroadcastTick(model.PriceSample{Price: 103.5, Timestamp: 4000})

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(readFrame(t, conn), &raw); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if _, ok := raw["history"]; ok {
		t.Error("tick frame carries a history field, want price and timestamp only")
	}

	var tick trading.PriceUpdate
	if err := json.Unmarshal(raw["price"], &tick.Price); err != nil {
		t.Fatalf("unmarshal price: %v", err)
	}
	if tick.Price != 103.5 {
		t.Errorf("tick price = %v, want 103.5", tick.Price)
	}
}

func TestWSSlowClientDroppedWithoutBlockingTicks(t *testing.T) {
	hub, conn := newWSEnv(t, model.PriceSample{Price: 100, Timestamp: 1000})
	readFrame(t, conn)

	// Flood the feed while the client reads nothing. Enough volume to
	// fill the socket buffers, back up the client's send queue, and
	// trigger the overflow disconnect.
	const floods = 200000
	start := time.Now()
	for i := 0; i < floods; i++ {
		hub.BroadcastTick(model.PriceSample{Price: 100, Timestamp: int64(i)})
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("broadcasting %d ticks took %v, producer must not block on a slow client", floods, elapsed)
	}

	// Drain what was queued for us; the connection must end in a close,
	// not a read timeout.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var err error
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		t.Fatalf("slow client was never disconnected: %v", err)
	}
}
