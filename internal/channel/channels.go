package channel

import (
	"context"
	"sync"
	"time"

	"perpscan/logger"
	"perpscan/models"
)

type Stats struct {
	RawSent    int64
	RawDropped int64
}

// Channels carries raw websocket frames from the feed read loop to the
// ingest worker. The send is non-blocking so a slow consumer sheds load
// instead of stalling the read loop.
type Channels struct {
	Raw chan models.RawMessage

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.RawMessage, rawBufferSize),
		log: log,
	}

	log.WithComponent("raw_channel").WithFields(logger.Fields{
		"raw_buffer_size": rawBufferSize,
	}).Info("raw channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("raw_channel").Info("raw channel closed")
}

// SendRaw enqueues a frame, reporting false when the buffer is full or the
// context is done.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawMessage) bool {
	select {
	case c.Raw <- msg:
		c.incrementSent()
		logger.RecordChannelMessage("raw_channel", len(msg.Frame))
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel load until ctx is done.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.WithComponent("raw_channel").WithFields(logger.Fields{
					"raw_sent":    stats.RawSent,
					"raw_dropped": stats.RawDropped,
					"raw_len":     len(c.Raw),
					"raw_cap":     cap(c.Raw),
				}).Info("channel statistics")
			}
		}
	}()
}
