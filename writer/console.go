package writer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	appconfig "perpscan/config"
	"perpscan/logger"
	"perpscan/models"
)

const clearSequence = "\033[2J\033[H"

// Console renders snapshots to a terminal. It is a pure consumer: rendering
// reads only the value-copied snapshot and never fails on absent fields.
type Console struct {
	out     io.Writer
	display appconfig.DisplayConfig
	log     *logger.Log
}

func NewConsole(cfg *appconfig.Config, out io.Writer) *Console {
	return &Console{
		out:     out,
		display: cfg.Display,
		log:     logger.GetLogger(),
	}
}

// Render writes the heartbeat header and one line per snapshot row.
// totalMarkets is the size of the discovered set, age the current feed
// silence duration.
func (c *Console) Render(snap models.Snapshot, totalMarkets int, age time.Duration) {
	if c.display.ClearScreen {
		fmt.Fprint(c.out, clearSequence)
	}

	hb := fmt.Sprintf("[HEARTBEAT] last_msg_age=%.2fs | markets=%d | print_every=%s | sort=%s",
		age.Seconds(), totalMarkets, c.display.PrintEvery, c.display.OrderMode)
	fmt.Fprintln(c.out, color.WhiteString(hb))
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, color.CyanString("====== PERP SNAPSHOT ======"))
	fmt.Fprintln(c.out, color.WhiteString("(showing up to %d rows; stale>%s hidden)", c.display.MaxRows, c.display.StaleFor))
	fmt.Fprintln(c.out)

	for _, row := range snap {
		fmt.Fprintln(c.out, c.formatRow(row))
	}

	if len(snap) == 0 {
		fmt.Fprintln(c.out, color.YellowString("(no recent market data yet - waiting on streams...)"))
	}
}

func (c *Console) formatRow(row models.Row) string {
	st := row.State

	ch := st.LastChannel
	if ch == "" {
		ch = "unknown"
	}

	parts := []string{
		"ch=" + colorChannel(displayChannel(ch)),
		"mkt=" + color.CyanString(row.Market),
	}

	if st.Bid != nil || st.Ask != nil {
		ref := st.Bid
		if ref == nil {
			ref = st.Ask
		}
		dp := priceDecimalPlaces(ref)

		bidTxt := color.WhiteString("bid=$None")
		if st.Bid != nil {
			bidTxt = color.GreenString("bid=$" + formatPrice(st.Bid, dp))
		}
		askTxt := color.WhiteString("ask=$None")
		if st.Ask != nil {
			askTxt = color.RedString("ask=$" + formatPrice(st.Ask, dp))
		}
		parts = append(parts, bidTxt+" "+askTxt)
	}

	if st.Mark != nil {
		parts = append(parts, color.YellowString("mark=$"+formatPrice(st.Mark, priceDecimalPlaces(st.Mark))))
	}

	if row.FundingPct != nil {
		parts = append(parts, "funding="+colorFunding(row.FundingPct, formatFundingPct(row.FundingPct)))
	}

	return strings.Join(parts, " | ")
}

func colorChannel(ch string) string {
	chl := strings.ToLower(ch)
	switch {
	case strings.HasPrefix(chl, "bbo."):
		return color.CyanString(ch)
	case strings.Contains(chl, "markets_summary"):
		return color.MagentaString(ch)
	case strings.HasPrefix(chl, "trades."):
		return color.YellowString(ch)
	case strings.Contains(chl, "funding"):
		return color.BlueString(ch)
	default:
		return color.WhiteString(ch)
	}
}

func colorFunding(pct *decimal.Decimal, text string) string {
	if pct == nil {
		return color.WhiteString(text)
	}
	if pct.Abs().LessThan(nearZeroPct) {
		return color.YellowString(text)
	}
	if pct.IsNegative() {
		return color.RedString(text)
	}
	return color.GreenString(text)
}
