package feed

import (
	"context"

	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
)

// PolymarketDialer returns a Dialer for the CLOB market channel at wsURL.
func PolymarketDialer(wsURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return polymarket.DialMarket(ctx, wsURL)
	}
}
