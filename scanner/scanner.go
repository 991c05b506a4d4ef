package scanner

import (
	"context"
	"sync/atomic"
	"time"

	appconfig "perpscan/config"
	"perpscan/internal/channel"
	"perpscan/logger"
	"perpscan/processor"
	"perpscan/writer"
)

// Feed is the transport the scanner supervises. The websocket client
// implements it; tests substitute fakes.
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SubscribeAll(ctx context.Context) error
}

// Scanner owns the main loop: it drains raw frames into the store and,
// on every display tick, either renders a snapshot or recovers a silent
// feed. Feed liveness is tracked from inbound frames, not successful
// parses, so a stream of unknown messages still counts as a live socket.
type Scanner struct {
	cfg      *appconfig.Config
	feed     Feed
	channels *channel.Channels
	store    *processor.Store
	builder  *processor.SnapshotBuilder
	console  *writer.Console
	log      *logger.Log

	lastMsg atomic.Int64
}

func New(cfg *appconfig.Config, feed Feed, channels *channel.Channels, store *processor.Store, console *writer.Console) *Scanner {
	s := &Scanner{
		cfg:      cfg,
		feed:     feed,
		channels: channels,
		store:    store,
		builder:  processor.NewSnapshotBuilder(),
		console:  console,
		log:      logger.GetLogger(),
	}
	s.MarkAlive(time.Now().UTC())
	return s
}

// MarkAlive records the arrival time of the most recent inbound frame.
// Called by the ingest loop for every frame and by the recovery path
// after a successful resubscribe so the watchdog does not fire again
// before fresh data arrives.
func (s *Scanner) MarkAlive(t time.Time) {
	s.lastMsg.Store(t.UnixNano())
}

func (s *Scanner) lastMessage() time.Time {
	return time.Unix(0, s.lastMsg.Load())
}

// Run drives the scanner until the context is cancelled. The ingest
// goroutine normalizes frames into the store while the tick loop handles
// rendering and feed supervision.
func (s *Scanner) Run(ctx context.Context) error {
	go s.ingest(ctx)

	ticker := time.NewTicker(s.cfg.Display.PrintEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// ingest drains the raw channel, marks the feed alive for every frame and
// merges whatever normalizes into a known market.
func (s *Scanner) ingest(ctx context.Context) {
	log := s.log.WithComponent("scanner_ingest")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.channels.Raw:
			if !ok {
				return
			}
			s.MarkAlive(msg.Received)

			update, ok := processor.Normalize(msg.Frame)
			if !ok {
				logger.IncrementUnknownDrop()
				continue
			}
			if s.store.Merge(update, msg.Received) {
				logger.IncrementMergeApplied()
			} else {
				logger.IncrementUnknownDrop()
				log.WithFields(logger.Fields{
					"channel": update.Channel,
					"market":  update.Market,
				}).Debug("update for untracked market dropped")
			}
		}
	}
}

// tick runs once per display interval. A quiet feed preempts rendering:
// the tick is spent on recovery and the next one resumes normal output.
func (s *Scanner) tick(ctx context.Context, now time.Time) {
	age := now.Sub(s.lastMessage())
	if age > s.cfg.Feed.QuietAfter {
		s.recover(ctx, now, age)
		return
	}

	snap := s.builder.Build(s.store, now, s.cfg.Display.StaleFor, s.cfg.Display.OrderMode, s.cfg.Display.MaxRows)
	s.console.Render(snap, s.store.Len(), age)
	logger.IncrementRender()
}

// recover tears the feed down and brings it back up. Disconnect errors
// are swallowed since the socket is usually already dead; Connect or
// SubscribeAll failures leave lastMessage untouched so the next tick
// retries the whole sequence.
func (s *Scanner) recover(ctx context.Context, now time.Time, age time.Duration) {
	log := s.log.WithComponent("scanner_watchdog")
	log.WithFields(logger.Fields{
		"silent_for":  age.String(),
		"quiet_after": s.cfg.Feed.QuietAfter.String(),
	}).Warn("feed silent, reconnecting")

	if err := s.feed.Disconnect(); err != nil {
		log.WithError(err).Debug("disconnect before reconnect failed")
	}

	if !sleepCtx(ctx, s.cfg.Feed.ReconnectBackoff) {
		return
	}

	if err := s.feed.Connect(ctx); err != nil {
		log.WithError(err).Warn("reconnect failed, retrying next tick")
		return
	}
	if err := s.feed.SubscribeAll(ctx); err != nil {
		log.WithError(err).Warn("resubscribe failed, retrying next tick")
		return
	}

	s.MarkAlive(now)
	logger.IncrementReconnect()
	log.Info("feed reconnected and resubscribed")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
