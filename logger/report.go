package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

// Feed pipeline counters, incremented from the hot paths and drained into
// the periodic runtime report.
var (
	feedFrames   int64
	mergeApplied int64
	unknownDrops int64
	reconnects   int64
	renders      int64
	warnsFeed    int64
	warnsScanner int64
	errorsFeed   int64
	errorsScan   int64
	channels     sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if isFeedComponent(component) {
		atomic.AddInt64(&warnsFeed, 1)
	} else {
		atomic.AddInt64(&warnsScanner, 1)
	}
}

func recordError(component string) {
	if isFeedComponent(component) {
		atomic.AddInt64(&errorsFeed, 1)
	} else {
		atomic.AddInt64(&errorsScan, 1)
	}
}

func isFeedComponent(component string) bool {
	switch component {
	case "paradex_rest", "paradex_ws", "raw_channel":
		return true
	default:
		return false
	}
}

// IncrementFeedRead records one inbound websocket frame of the given size.
func IncrementFeedRead(size int) {
	atomic.AddInt64(&feedFrames, 1)
	recordChannel("paradex_ws", size)
}

// IncrementMergeApplied records one normalized update merged into the store.
func IncrementMergeApplied() {
	atomic.AddInt64(&mergeApplied, 1)
}

// IncrementUnknownDrop records one frame dropped for failing to
// normalize or for referencing a market outside the discovered set.
func IncrementUnknownDrop() {
	atomic.AddInt64(&unknownDrops, 1)
}

// IncrementReconnect records one watchdog-driven reconnect attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementRender records one completed snapshot render.
func IncrementRender() {
	atomic.AddInt64(&renders, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"feed_frames":   atomic.LoadInt64(&feedFrames),
		"merges":        atomic.LoadInt64(&mergeApplied),
		"unknown_drops": atomic.LoadInt64(&unknownDrops),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"renders":       atomic.LoadInt64(&renders),
		"warns_feed":    atomic.LoadInt64(&warnsFeed),
		"warns_scanner": atomic.LoadInt64(&warnsScanner),
		"errors_feed":   atomic.LoadInt64(&errorsFeed),
		"errors_scan":   atomic.LoadInt64(&errorsScan),
		"goroutines":    runtime.NumGoroutine(),
		"cpu_percent":   cpuPct,
		"memory_mb":     memMB,
		"channels":      channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-FeedFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["feed_frames"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-Merges"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["merges"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-UnknownDrops"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["unknown_drops"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnects"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-Renders"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["renders"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Perpscan-ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Perpscan-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Perpscan-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
