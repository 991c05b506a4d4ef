package paradex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "perpscan/config"
	"perpscan/models"
)

func testConfig(restURL, wsURL string) *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Feed.RestURL = restURL
	cfg.Feed.WsURL = wsURL
	cfg.Feed.ConnectTimeout = 2 * time.Second
	cfg.Feed.SubscribePerSecond = 100
	cfg.Feed.SubscribeBurst = 100
	return cfg
}

func TestExpandChannel(t *testing.T) {
	tests := []struct {
		channel string
		params  map[string]string
		want    string
	}{
		{"bbo.{market}", map[string]string{"market": "BTC-USD-PERP"}, "bbo.BTC-USD-PERP"},
		{"markets_summary", map[string]string{"market": "ALL"}, "markets_summary"},
		{"bbo.{market}", nil, "bbo.{market}"},
	}
	for _, tt := range tests {
		got := expandChannel(tt.channel, tt.params)
		if got != tt.want {
			t.Errorf("expandChannel(%q, %v) = %q, want %q", tt.channel, tt.params, got, tt.want)
		}
	}
}

func TestFetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"symbol":"BTC-USD-PERP","base_currency":"BTC","quote_currency":"USD","asset_kind":"PERP"},
			{"symbol":"ETH-USD-PERP","base_currency":"ETH","quote_currency":"USD","asset_kind":"PERP"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, ""), nil)
	markets, err := c.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	if markets[0].Symbol != "BTC-USD-PERP" || markets[0].AssetKind != "PERP" {
		t.Errorf("unexpected first market: %+v", markets[0])
	}
}

func TestFetchMarketsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, ""), nil)
	if _, err := c.FetchMarkets(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

// wsTestServer upgrades connections and records subscribe requests.
type wsTestServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	channels []string
}

func newWsTestServer(t *testing.T, echo func(conn *websocket.Conn)) *wsTestServer {
	t.Helper()
	ws := &wsTestServer{}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if echo != nil {
			echo(conn)
		}
		for {
			var req subscribeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			ws.mu.Lock()
			ws.channels = append(ws.channels, req.Params["channel"])
			ws.mu.Unlock()
		}
	}))
	return ws
}

func (ws *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsTestServer) subscribed() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]string, len(ws.channels))
	copy(out, ws.channels)
	return out
}

func TestSubscribeAllSendsSummaryAndPerMarketBbo(t *testing.T) {
	ws := newWsTestServer(t, nil)
	defer ws.srv.Close()

	c := NewClient(testConfig("", ws.url()), func(ctx context.Context, msg models.RawMessage) bool { return true })
	c.SetSymbols([]string{"BTC-USD-PERP", "ETH-USD-PERP"})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.SubscribeAll(ctx); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	want := []string{"markets_summary", "bbo.BTC-USD-PERP", "bbo.ETH-USD-PERP"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := ws.subscribed()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("subscription %d = %q, want %q", i, got[i], want[i])
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for subscriptions, got %v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReadLoopForwardsFrames(t *testing.T) {
	frame := []byte(`{"params":{"channel":"bbo.BTC-USD-PERP","data":{"bid":"1","ask":"2"}}}`)
	ws := newWsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	})
	defer ws.srv.Close()

	received := make(chan models.RawMessage, 1)
	c := NewClient(testConfig("", ws.url()), func(ctx context.Context, msg models.RawMessage) bool {
		select {
		case received <- msg:
		default:
		}
		return true
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	select {
	case msg := <-received:
		if string(msg.Frame) != string(frame) {
			t.Errorf("forwarded frame = %s, want %s", msg.Frame, frame)
		}
		if msg.Received.IsZero() {
			t.Error("expected received timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := NewClient(testConfig("", "ws://127.0.0.1:1"), nil)
	err := c.Subscribe(context.Background(), ChannelMarketsSummary, map[string]string{"market": "ALL"})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestDisconnectWithoutConnection(t *testing.T) {
	c := NewClient(testConfig("", ""), nil)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect on idle client should be nil, got %v", err)
	}
}
