package scanner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	appconfig "perpscan/config"
	"perpscan/internal/channel"
	"perpscan/models"
	"perpscan/processor"
	"perpscan/writer"
)

func init() {
	color.NoColor = true
}

type fakeFeed struct {
	mu    sync.Mutex
	calls []string

	disconnectErr error
	connectErr    error
	subscribeErr  error
}

func (f *fakeFeed) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.record("connect")
	return f.connectErr
}

func (f *fakeFeed) Disconnect() error {
	f.record("disconnect")
	return f.disconnectErr
}

func (f *fakeFeed) SubscribeAll(ctx context.Context) error {
	f.record("subscribe_all")
	return f.subscribeErr
}

func (f *fakeFeed) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func testConfig() *appconfig.Config {
	cfg := &appconfig.Config{}
	cfg.Display.PrintEvery = 7 * time.Second
	cfg.Display.MaxRows = 250
	cfg.Display.StaleFor = 20 * time.Second
	cfg.Display.OrderMode = appconfig.OrderModeFunding
	cfg.Feed.QuietAfter = 45 * time.Second
	cfg.Feed.ReconnectBackoff = 0
	cfg.Channels.RawBuffer = 16
	return cfg
}

func newTestScanner(cfg *appconfig.Config, feed *fakeFeed, symbols []string) (*Scanner, *bytes.Buffer, *channel.Channels) {
	out := &bytes.Buffer{}
	chans := channel.NewChannels(cfg.Channels.RawBuffer)
	store := processor.NewStore(symbols)
	console := writer.NewConsole(cfg, out)
	return New(cfg, feed, chans, store, console), out, chans
}

func TestTickRendersWhileFeedIsLive(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{}
	s, out, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	s.MarkAlive(now.Add(-44 * time.Second))

	s.tick(context.Background(), now)

	if len(feed.callLog()) != 0 {
		t.Fatalf("expected no feed calls at 44s of silence, got %v", feed.callLog())
	}
	if !strings.Contains(out.String(), "PERP SNAPSHOT") {
		t.Errorf("expected a rendered snapshot, got %q", out.String())
	}
}

func TestTickReconnectsWhenFeedIsSilent(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{}
	s, out, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	s.MarkAlive(now.Add(-46 * time.Second))

	s.tick(context.Background(), now)

	want := []string{"disconnect", "connect", "subscribe_all"}
	got := feed.callLog()
	if len(got) != len(want) {
		t.Fatalf("feed calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("feed call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if out.Len() != 0 {
		t.Errorf("recovery tick should not render, got %q", out.String())
	}
	if !s.lastMessage().Equal(now) {
		t.Errorf("lastMessage = %v, want reset to %v", s.lastMessage(), now)
	}
}

func TestTickAtExactQuietBoundaryStillRenders(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{}
	s, _, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	s.MarkAlive(now.Add(-cfg.Feed.QuietAfter))

	s.tick(context.Background(), now)

	if len(feed.callLog()) != 0 {
		t.Fatalf("silence equal to the threshold should not reconnect, got %v", feed.callLog())
	}
}

func TestReconnectFailureRetriesNextTick(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{connectErr: errors.New("dial refused")}
	s, _, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	silent := now.Add(-60 * time.Second)
	s.MarkAlive(silent)

	s.tick(context.Background(), now)

	if !s.lastMessage().Equal(silent) {
		t.Fatalf("failed reconnect must not reset lastMessage, got %v", s.lastMessage())
	}

	// Next tick retries the full sequence once the transport is back.
	feed.connectErr = nil
	later := now.Add(cfg.Display.PrintEvery)
	s.tick(context.Background(), later)

	got := feed.callLog()
	want := []string{"disconnect", "connect", "disconnect", "connect", "subscribe_all"}
	if len(got) != len(want) {
		t.Fatalf("feed calls = %v, want %v", got, want)
	}
	if !s.lastMessage().Equal(later) {
		t.Errorf("lastMessage = %v, want %v after successful recovery", s.lastMessage(), later)
	}
}

func TestResubscribeFailureRetriesNextTick(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{subscribeErr: errors.New("write: broken pipe")}
	s, _, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	silent := now.Add(-60 * time.Second)
	s.MarkAlive(silent)

	s.tick(context.Background(), now)

	if !s.lastMessage().Equal(silent) {
		t.Fatalf("failed resubscribe must not reset lastMessage, got %v", s.lastMessage())
	}
}

func TestDisconnectErrorIsSwallowed(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{disconnectErr: errors.New("use of closed network connection")}
	s, _, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	now := time.Now().UTC()
	s.MarkAlive(now.Add(-90 * time.Second))

	s.tick(context.Background(), now)

	got := feed.callLog()
	if len(got) != 3 || got[2] != "subscribe_all" {
		t.Fatalf("disconnect error must not stop recovery, calls = %v", got)
	}
	if !s.lastMessage().Equal(now) {
		t.Errorf("lastMessage = %v, want %v", s.lastMessage(), now)
	}
}

func TestIngestMergesKnownMarkets(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{}
	s, _, chans := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ingest(ctx)

	frame := []byte(`{"params":{"channel":"bbo.BTC-USD-PERP","data":{"market":"BTC-USD-PERP","bid":"50000.5","ask":"50001"}}}`)
	received := time.Now().UTC()
	if !chans.SendRaw(ctx, models.RawMessage{Received: received, Frame: frame}) {
		t.Fatal("SendRaw failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		state, ok := s.store.Get("BTC-USD-PERP")
		if ok && state.Bid != nil {
			if state.Bid.String() != "50000.5" {
				t.Fatalf("bid = %s, want 50000.5", state.Bid)
			}
			if !s.lastMessage().Equal(received) {
				t.Errorf("lastMessage = %v, want %v", s.lastMessage(), received)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for merge")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIngestMarksAliveForUnparseableFrames(t *testing.T) {
	cfg := testConfig()
	feed := &fakeFeed{}
	s, _, chans := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ingest(ctx)

	s.MarkAlive(time.Now().UTC().Add(-time.Hour))

	received := time.Now().UTC()
	if !chans.SendRaw(ctx, models.RawMessage{Received: received, Frame: []byte("not json at all")}) {
		t.Fatal("SendRaw failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if s.lastMessage().Equal(received) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("lastMessage = %v, want %v even for junk frames", s.lastMessage(), received)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Display.PrintEvery = 10 * time.Millisecond
	feed := &fakeFeed{}
	s, _, _ := newTestScanner(cfg, feed, []string{"BTC-USD-PERP"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
