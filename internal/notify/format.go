package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const marketURL = "https://polymarket.com/event/"

func formatMarket(m domain.Market) string {
	var b strings.Builder
	b.WriteString(m.Question)
	b.WriteString("\n")
	outcomes := make([]string, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		if t.Price > 0 {
			outcomes = append(outcomes, fmt.Sprintf("%s %.3f", t.Outcome, t.Price))
		} else {
			outcomes = append(outcomes, t.Outcome)
		}
	}
	if len(outcomes) > 0 {
		fmt.Fprintf(&b, "Outcomes: %s\n", strings.Join(outcomes, " / "))
	}
	if m.Liquidity > 0 {
		fmt.Fprintf(&b, "Liquidity: $%.0f\n", m.Liquidity)
	}
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	}
	if m.Slug != "" {
		b.WriteString(marketURL + m.Slug)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTrade(p domain.Position) string {
	return fmt.Sprintf("%s\nBUY %s %.2f @ %.3f ($%.2f)\nTarget %+.1f%% / Stop %+.1f%% / Max %gh",
		p.MarketName, p.Side, p.Size, p.EntryPrice, p.Notional(),
		p.TargetProfitPercent, p.StopLossPercent, p.MaxHoldingHours)
}

func formatClose(p domain.Position, pnl float64) string {
	exit := p.EntryPrice
	if p.CurrentPrice != nil {
		exit = *p.CurrentPrice
	}
	return fmt.Sprintf("%s\n%s %.2f: %.3f -> %.3f (%+.2f%%)\nPnL: %+.2f USDC",
		p.MarketName, p.Side, p.Size, p.EntryPrice, exit, p.PnLPercent(exit), pnl)
}

func formatBalance(s domain.BalanceSnapshot, detail string) string {
	msg := fmt.Sprintf("Total: $%.2f (free $%.2f, positions $%.2f)\nSource: %s",
		s.Total, s.FreeBalance, s.PositionsValue, s.Source)
	if s.Degraded {
		msg += " (degraded)"
	}
	if detail != "" {
		msg += "\n" + detail
	}
	return msg
}
