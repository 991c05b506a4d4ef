package processor

import (
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"perpscan/models"
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalHundred = decimal.NewFromInt(100)
)

// SnapshotBuilder turns the store into an ordered, bounded, value-copied
// view. Safe for use from a single goroutine (the tick loop).
type SnapshotBuilder struct {
	rng *rand.Rand
}

func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Build filters stale markets, derives funding display values and orders
// the rows. Markets never updated are excluded; a market exactly stale
// seconds old is still shown. Truncation to maxRows happens after
// ordering, so funding mode always surfaces the top rows by magnitude and
// random mode shows a different subset each tick.
func (b *SnapshotBuilder) Build(store *Store, now time.Time, stale time.Duration, mode string, maxRows int) models.Snapshot {
	states := store.States()

	symbols := make([]string, 0, len(states))
	for sym := range states {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	rows := make(models.Snapshot, 0, len(symbols))
	for _, sym := range symbols {
		st := states[sym]
		fresh := st.Freshness()
		if fresh.IsZero() {
			continue
		}
		if now.Sub(fresh) > stale {
			continue
		}

		pct := FundingPct(st.Funding)
		absFunding := decimal.Zero
		if pct != nil {
			absFunding = pct.Abs()
		}

		rows = append(rows, models.Row{
			Market:     sym,
			State:      st,
			FundingPct: pct,
			AbsFunding: absFunding,
		})
	}

	switch mode {
	case "funding":
		// Funding leaderboard: biggest |funding| first, stable on ties.
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].AbsFunding.GreaterThan(rows[j].AbsFunding)
		})
	default:
		b.rng.Shuffle(len(rows), func(i, j int) {
			rows[i], rows[j] = rows[j], rows[i]
		})
	}

	if maxRows >= 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	return rows
}

// FundingPct converts a raw funding value into a display percentage.
// Upstream feeds are inconsistent about units: |raw| <= 1 is taken as a
// fraction and multiplied by 100, anything bigger is assumed to already be
// a percentage. The threshold of 1 is fixed; legitimate fractional values
// above 1 would be misclassified, a known limitation of the heuristic.
func FundingPct(raw *decimal.Decimal) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	if raw.Abs().LessThanOrEqual(decimalOne) {
		pct := raw.Mul(decimalHundred)
		return &pct
	}
	pct := *raw
	return &pct
}
