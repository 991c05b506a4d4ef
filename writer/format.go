package writer

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	thousand    = decimal.NewFromInt(1000)
	one         = decimal.NewFromInt(1)
	tenth       = decimal.RequireFromString("0.1")
	hundredth   = decimal.RequireFromString("0.01")
	nearZeroPct = decimal.RequireFromString("0.0020")
)

// priceDecimalPlaces picks display precision by magnitude so low-priced
// markets don't print as $0.00. The two lowest tiers intentionally map to
// the same precision; the table is kept verbatim rather than collapsed.
func priceDecimalPlaces(px *decimal.Decimal) int32 {
	if px == nil {
		return 1
	}
	switch {
	case px.GreaterThanOrEqual(thousand):
		return 1
	case px.GreaterThanOrEqual(one):
		return 2
	case px.GreaterThanOrEqual(tenth):
		return 3
	case px.GreaterThanOrEqual(hundredth):
		return 3
	default:
		return 3
	}
}

func formatPrice(px *decimal.Decimal, places int32) string {
	if px == nil {
		return "None"
	}
	return px.StringFixed(places)
}

func formatFundingPct(pct *decimal.Decimal) string {
	if pct == nil {
		return "None"
	}
	return pct.StringFixed(3) + "%"
}

// displayChannel compacts channel labels for the row view. A bbo channel
// whose symbol matches <BASE>-USD-PERP collapses to bbo.<BASE>-PERP; any
// summary channel collapses to the bare markets_summary label; everything
// else passes through.
func displayChannel(ch string) string {
	if ch == "" {
		return "unknown"
	}
	chl := strings.ToLower(ch)

	if strings.HasPrefix(chl, "bbo.") {
		sym := ch[len("bbo."):]
		if strings.HasSuffix(sym, "-PERP") && strings.Contains(sym, "-USD-") {
			base := strings.SplitN(sym, "-", 2)[0]
			return "bbo." + base + "-PERP"
		}
		return "bbo." + sym
	}

	if strings.Contains(chl, "markets_summary") {
		return "markets_summary"
	}

	return ch
}
