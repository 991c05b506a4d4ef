package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perpscan/config"
	"perpscan/internal/channel"
	"perpscan/logger"
	"perpscan/models"
	"perpscan/processor"
	"perpscan/reader/paradex"
	"perpscan/scanner"
	"perpscan/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Perpscan.Name,
		"version":     cfg.Perpscan.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting perpscan")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		// Metrics only leave the host from production-like deployments.
		if config.IsProductionLike(config.AppEnvironment()) {
			logger.InitCloudWatch(os.Getenv("AWS_REGION"), "Perpscan", cfg.Logging.DashboardName)
		}
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer)
	defer channels.Close()

	channels.StartMetricsReporting(ctx)

	feed := paradex.NewClient(cfg, func(ctx context.Context, msg models.RawMessage) bool {
		return channels.SendRaw(ctx, msg)
	})

	markets, err := feed.FetchMarkets(ctx)
	if err != nil {
		log.WithError(err).Error("failed to fetch markets")
		os.Exit(1)
	}

	symbols := selectSymbols(markets, cfg.Display.PerpsOnly)
	if len(symbols) == 0 {
		log.WithComponent("main").Error("no markets matched the configured filter")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{
		"discovered": len(markets),
		"tracked":    len(symbols),
	}).Info("market discovery complete")

	feed.SetSymbols(symbols)
	store := processor.NewStore(symbols)
	console := writer.NewConsole(cfg, os.Stdout)

	if err := feed.Connect(ctx); err != nil {
		log.WithError(err).Error("failed to connect websocket")
		os.Exit(1)
	}
	if err := feed.SubscribeAll(ctx); err != nil {
		log.WithError(err).Error("failed to subscribe")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	s := scanner.New(cfg, feed, channels, store, console)
	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("scanner stopped")
	}

	if err := feed.Disconnect(); err != nil {
		log.WithError(err).Debug("disconnect on shutdown failed")
	}

	log.WithComponent("main").Info("perpscan stopped")
}

// selectSymbols extracts the market symbols to track, optionally keeping
// only perpetuals, sorted and deduplicated.
func selectSymbols(markets []models.Market, perpsOnly bool) []string {
	seen := make(map[string]struct{}, len(markets))
	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.Symbol == "" {
			continue
		}
		if perpsOnly && !strings.HasSuffix(m.Symbol, "-PERP") {
			continue
		}
		if _, ok := seen[m.Symbol]; ok {
			continue
		}
		seen[m.Symbol] = struct{}{}
		symbols = append(symbols, m.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}
