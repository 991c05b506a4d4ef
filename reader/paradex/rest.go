package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"perpscan/logger"
	"perpscan/models"
)

// FetchMarkets discovers the tradable instruments via REST. Called once at
// startup; a failure here is fatal for the process.
func (c *Client) FetchMarkets(ctx context.Context) ([]models.Market, error) {
	started := time.Now()
	url := strings.TrimRight(c.cfg.Feed.RestURL, "/") + "/markets"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build markets request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("markets request returned status %d", resp.StatusCode)
	}

	var payload models.MarketsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode markets response: %w", err)
	}

	logger.LogPerformanceEntry(c.log.WithFields(logger.Fields{
		"markets": len(payload.Results),
	}), "paradex_rest", "fetch_markets", time.Since(started), nil)

	return payload.Results, nil
}
