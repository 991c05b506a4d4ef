package processor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"perpscan/models"
)

// envelope covers the two tolerated frame shapes: a subscription wrapper
// carrying channel and data under params, and a flat frame with both at the
// top level. The nested form wins whenever a params object with a data key
// is present.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Params  *struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// Normalize maps one raw feed frame onto a per-market field update. The
// second return value is false when the frame carries no usable market
// identifier; receipt of such frames still counts for feed liveness, which
// the caller tracks separately.
func Normalize(frame []byte) (models.NormalizedUpdate, bool) {
	channel, payload := unwrap(frame)

	market := pickMarket(payload)
	if market == "" {
		return models.NormalizedUpdate{}, false
	}

	upd := models.NormalizedUpdate{
		Channel: channel,
		Market:  market,
		Kind:    classify(channel),
	}

	switch upd.Kind {
	case models.KindBbo:
		upd.Bid = toDecimal(payload["bid"])
		upd.Ask = toDecimal(payload["ask"])
	case models.KindSummary:
		upd.Mark = extractMark(payload)
		upd.Funding = extractFunding(payload)
	case models.KindFunding:
		upd.Funding = extractFunding(payload)
	}

	return upd, true
}

// unwrap extracts the channel label and the payload object from a frame.
// Frames that fit neither shape yield channel "unknown" and an empty
// payload rather than an error.
func unwrap(frame []byte) (string, map[string]any) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "unknown", nil
	}

	channel := env.Channel
	data := env.Data
	if env.Params != nil && len(env.Params.Data) > 0 {
		data = env.Params.Data
		if env.Params.Channel != "" {
			channel = env.Params.Channel
		}
	}
	if channel == "" {
		channel = "unknown"
	}

	return channel, decodePayload(data)
}

// decodePayload decodes the data member into a generic object, keeping
// numbers as json.Number so prices survive with exact decimal semantics.
func decodePayload(data json.RawMessage) map[string]any {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	return payload
}

// classify maps a channel label onto the state fields it may touch.
// Priority order matters: bbo channels first, then the aggregate summary,
// then dedicated funding channels.
func classify(channel string) models.UpdateKind {
	switch {
	case strings.Contains(channel, "bbo."):
		return models.KindBbo
	case strings.Contains(channel, "markets_summary"):
		return models.KindSummary
	case strings.Contains(strings.ToLower(channel), "funding"):
		return models.KindFunding
	default:
		return models.KindUnknown
	}
}

func pickMarket(payload map[string]any) string {
	if s, ok := payload["market"].(string); ok && s != "" {
		return s
	}
	if s, ok := payload["symbol"].(string); ok && s != "" {
		return s
	}
	return ""
}

// extractMark returns the first parseable mark price alias.
func extractMark(payload map[string]any) *decimal.Decimal {
	for _, key := range []string{"mark_price", "markPrice", "mark"} {
		if d := toDecimal(payload[key]); d != nil {
			return d
		}
	}
	return nil
}

// extractFunding returns the first parseable funding rate alias.
func extractFunding(payload map[string]any) *decimal.Decimal {
	for _, key := range []string{"funding_rate", "fundingRate", "funding"} {
		if d := toDecimal(payload[key]); d != nil {
			return d
		}
	}
	return nil
}

// toDecimal converts a loosely typed payload value into an exact decimal.
// Anything unparseable is treated as absent, never as an error.
func toDecimal(v any) *decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return nil
		}
		return &d
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil
		}
		return &d
	case float64:
		d := decimal.NewFromFloat(t)
		return &d
	default:
		return nil
	}
}
