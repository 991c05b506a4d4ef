package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawMessage is one websocket frame on its way from the read loop to the
// ingest worker.
type RawMessage struct {
	Received time.Time
	Frame    []byte
}

// UpdateKind classifies which state fields a normalized update may touch.
type UpdateKind int

const (
	KindUnknown UpdateKind = iota
	KindBbo
	KindSummary
	KindFunding
)

func (k UpdateKind) String() string {
	switch k {
	case KindBbo:
		return "bbo"
	case KindSummary:
		return "summary"
	case KindFunding:
		return "funding"
	default:
		return "unknown"
	}
}

// NormalizedUpdate is the ephemeral result of decoding a feed frame. Nil
// price fields mean the frame carried no parseable value; the store never
// clears an existing value because of a nil here.
type NormalizedUpdate struct {
	Channel string
	Market  string
	Kind    UpdateKind
	Bid     *decimal.Decimal
	Ask     *decimal.Decimal
	Mark    *decimal.Decimal
	Funding *decimal.Decimal
}

// MarketState is the latest known per-market data. One value lives in the
// store per discovered market for the process lifetime and is mutated in
// place under the store lock. Decimal pointers are replaced wholesale on
// merge, never mutated, so a value copy of MarketState is safe to read
// while merges continue.
type MarketState struct {
	Bid         *decimal.Decimal
	Ask         *decimal.Decimal
	Mark        *decimal.Decimal
	Funding     *decimal.Decimal
	BboAt       time.Time
	SummaryAt   time.Time
	LastChannel string
}

// Freshness is the later of the two update timestamps; zero when the
// market has never been updated.
func (s MarketState) Freshness() time.Time {
	if s.BboAt.After(s.SummaryAt) {
		return s.BboAt
	}
	return s.SummaryAt
}

// Row is one snapshot entry: a value copy of the market state plus the
// derived funding display values.
type Row struct {
	Market     string
	State      MarketState
	FundingPct *decimal.Decimal
	AbsFunding decimal.Decimal
}

// Snapshot is an ordered, bounded view over the store, rebuilt every tick.
type Snapshot []Row
