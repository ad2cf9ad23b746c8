package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API. It serves as
// the full-listing fallback when the subgraph is unavailable.
type GammaClient struct {
	rest     restClient
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, limiter *rate.Limiter, pageSize, maxPages int, logger *slog.Logger) *GammaClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	return &GammaClient{
		rest:     newRESTClient(baseURL, limiter),
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   logger.With(slog.String("component", "gamma")),
	}
}

// GetMarkets returns one page of open markets, newest first.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("closed", "false")
	params.Set("order", "createdAt")
	params.Set("ascending", "false")

	body, err := g.rest.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var apiMarkets []GammaMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w: %w", domain.ErrDataIntegrity, err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		m, err := apiMarkets[i].ToDomainMarket()
		if err != nil {
			g.logger.WarnContext(ctx, "gamma: skipping malformed market",
				slog.String("market_id", apiMarkets[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.rest.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket GammaMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w: %w", domain.ErrDataIntegrity, err)
	}
	return apiMarket.ToDomainMarket()
}

// FetchAllMarkets pages through the newest open markets, up to the
// configured page limit.
func (g *GammaClient) FetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	for page := 0; page < g.maxPages; page++ {
		batch, err := g.GetMarkets(ctx, g.pageSize, page*g.pageSize)
		if err != nil {
			if len(all) > 0 && !errors.Is(err, context.Canceled) {
				g.logger.WarnContext(ctx, "gamma: stopping pagination early",
					slog.Int("page", page),
					slog.String("error", err.Error()),
				)
				break
			}
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < g.pageSize {
			break
		}
	}
	return all, nil
}

// FetchNewMarkets returns listed markets created within maxAge.
func (g *GammaClient) FetchNewMarkets(ctx context.Context, maxAge time.Duration) ([]domain.Market, error) {
	all, err := g.FetchAllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return domain.FilterByAge(all, time.Now(), maxAge), nil
}

var _ domain.MarketSource = (*GammaClient)(nil)
