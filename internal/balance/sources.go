package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// Source names reported in BalanceSnapshot.Source.
const (
	SourcePositionsValue = "positions-value"
	SourceProxyFree      = "proxy-free"
	SourceOnchain        = "onchain"
	SourceLastKnown      = "last-known"
	SourceSentinel       = "sentinel"
)

// PositionsValuer reports the aggregate mark value of a wallet's positions.
type PositionsValuer interface {
	PositionsValue(ctx context.Context, user string) (float64, error)
}

// USDCReader reads the on-chain USDC balance of an address.
type USDCReader interface {
	USDCBalance(ctx context.Context, owner string) (float64, error)
}

// PositionsValueSource resolves the balance from the Data API positions
// value alone.
type PositionsValueSource struct {
	data PositionsValuer
	now  func() time.Time
}

// NewPositionsValueSource creates the positions-value source.
func NewPositionsValueSource(data PositionsValuer) *PositionsValueSource {
	return &PositionsValueSource{data: data, now: time.Now}
}

// Name implements domain.BalanceSource.
func (s *PositionsValueSource) Name() string { return SourcePositionsValue }

// Balance implements domain.BalanceSource.
func (s *PositionsValueSource) Balance(ctx context.Context, address string) (domain.BalanceSnapshot, error) {
	value, err := s.data.PositionsValue(ctx, address)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/positions-value: %w", err)
	}
	if value <= 0 {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/positions-value: zero value: %w", domain.ErrBalanceUnavailable)
	}
	return domain.BalanceSnapshot{
		PositionsValue: value,
		Total:          value,
		Source:         SourcePositionsValue,
		Timestamp:      s.now().UTC(),
	}, nil
}

// ProxyFreeSource reads free USDC held by the proxy wallet and adds the
// positions value when it is available.
type ProxyFreeSource struct {
	proxy string
	usdc  USDCReader
	data  PositionsValuer // optional
	now   func() time.Time
}

// NewProxyFreeSource creates the proxy-free source. data may be nil.
func NewProxyFreeSource(proxyAddress string, usdc USDCReader, data PositionsValuer) *ProxyFreeSource {
	return &ProxyFreeSource{proxy: proxyAddress, usdc: usdc, data: data, now: time.Now}
}

// Name implements domain.BalanceSource.
func (s *ProxyFreeSource) Name() string { return SourceProxyFree }

// Balance implements domain.BalanceSource. The address argument is only
// used for the positions value; free USDC is read from the proxy wallet.
func (s *ProxyFreeSource) Balance(ctx context.Context, address string) (domain.BalanceSnapshot, error) {
	if s.proxy == "" {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/proxy-free: no proxy wallet: %w", domain.ErrSourceUnavailable)
	}
	free, err := s.usdc.USDCBalance(ctx, s.proxy)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/proxy-free: %w", err)
	}

	var positions float64
	if s.data != nil {
		if v, err := s.data.PositionsValue(ctx, address); err == nil {
			positions = v
		}
	}
	total := free + positions
	if total <= 0 {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/proxy-free: zero balance: %w", domain.ErrBalanceUnavailable)
	}
	return domain.BalanceSnapshot{
		FreeBalance:    free,
		PositionsValue: positions,
		Total:          total,
		Source:         SourceProxyFree,
		Timestamp:      s.now().UTC(),
	}, nil
}

// OnchainSource reads USDC held directly by the address.
type OnchainSource struct {
	usdc USDCReader
	now  func() time.Time
}

// NewOnchainSource creates the onchain source.
func NewOnchainSource(usdc USDCReader) *OnchainSource {
	return &OnchainSource{usdc: usdc, now: time.Now}
}

// Name implements domain.BalanceSource.
func (s *OnchainSource) Name() string { return SourceOnchain }

// Balance implements domain.BalanceSource. A zero balance is treated as an
// unavailable reading.
func (s *OnchainSource) Balance(ctx context.Context, address string) (domain.BalanceSnapshot, error) {
	free, err := s.usdc.USDCBalance(ctx, address)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/onchain: %w", err)
	}
	if free <= 0 {
		return domain.BalanceSnapshot{}, fmt.Errorf("balance/onchain: zero balance: %w", domain.ErrBalanceUnavailable)
	}
	return domain.BalanceSnapshot{
		FreeBalance: free,
		Total:       free,
		Source:      SourceOnchain,
		Timestamp:   s.now().UTC(),
	}, nil
}
