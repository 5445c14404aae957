package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/binex/internal/domain"
)

// Console implementa ports.Reporter.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// Report imprime el estado del market maker en el modo configurado.
func (c *Console) Report(_ context.Context, quotes []domain.MarketQuoteStatus, books []domain.BookSnapshot) error {
	if len(quotes) == 0 {
		fmt.Fprintf(c.out, "[%s] mm: no markets tracked\n", c.now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printQuotes(quotes)
		c.printBooks(books)
	} else {
		c.printCompact(quotes)
	}
	return nil
}

// printCompact imprime una línea con lo esencial de cada mercado.
func (c *Console) printCompact(quotes []domain.MarketQuoteStatus) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts", c.now().Format("15:04:05"), len(quotes))

	for _, q := range quotes {
		if q.Closed {
			fmt.Fprintf(&sb, " | %s closed", q.MarketID)
			continue
		}
		fmt.Fprintf(&sb, " | %s fv%.3f sp%.3f inv%+.0f rest%d",
			q.MarketID, q.FairYes, q.Spread, q.YesPosition-q.NoPosition, q.Resting)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printQuotes imprime la tabla de cotización por mercado.
func (c *Console) printQuotes(quotes []domain.MarketQuoteStatus) {
	fmt.Fprintf(c.out, "\n[%s] market maker: %d markets\n", c.now().Format("15:04:05"), len(quotes))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Asset", "Strike", "Spot", "Fair YES", "Spread", "Skew", "YES", "NO", "Resting", "Age")

	for i, q := range quotes {
		fair, spread, skew := fmt.Sprintf("%.4f", q.FairYes), fmt.Sprintf("%.3f", q.Spread), fmt.Sprintf("%+.4f", q.Skew)
		if q.Closed {
			fair, spread, skew = "closed", "-", "-"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			q.MarketID,
			q.Asset,
			fmt.Sprintf("%.2f", q.Strike),
			fmt.Sprintf("%.2f", q.Spot),
			fair,
			spread,
			skew,
			fmt.Sprintf("%.2f", q.YesPosition),
			fmt.Sprintf("%.2f", q.NoPosition),
			fmt.Sprintf("%d", q.Resting),
			c.age(q.LastRefresh),
		)
	}
	table.Render()
}

// printBooks imprime cada libro como escalera bids | asks.
func (c *Console) printBooks(books []domain.BookSnapshot) {
	for _, b := range books {
		if len(b.Bids) == 0 && len(b.Asks) == 0 {
			continue
		}
		fmt.Fprintf(c.out, "\n  %s %s (seq %d, mid %.3f)\n", b.MarketID, b.Outcome, b.Sequence, b.Midpoint())

		table := tablewriter.NewWriter(c.out)
		table.Header("Bid size", "Bid", "Ask", "Ask size")
		rows := max(len(b.Bids), len(b.Asks))
		for i := range rows {
			bidSize, bid, ask, askSize := "", "", "", ""
			if i < len(b.Bids) {
				bid, bidSize = fmt.Sprintf("%.2f", b.Bids[i].Price), fmt.Sprintf("%.2f", b.Bids[i].Size)
			}
			if i < len(b.Asks) {
				ask, askSize = fmt.Sprintf("%.2f", b.Asks[i].Price), fmt.Sprintf("%.2f", b.Asks[i].Size)
			}
			table.Append(bidSize, bid, ask, askSize)
		}
		table.Render()
	}
}

func (c *Console) age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return c.now().Sub(t).Truncate(time.Second).String()
}
