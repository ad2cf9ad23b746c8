// Package subgraph queries The Graph's Polymarket subgraph for newly created
// markets. It is the primary discovery source.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const newMarketsQuery = `
query GetNewMarkets($min_timestamp: BigInt!, $limit: Int!) {
  markets(
    first: $limit
    orderBy: createdTimestamp
    orderDirection: desc
    where: { createdTimestamp_gt: $min_timestamp, active: true, acceptingOrders: true }
  ) {
    id
    question
    createdTimestamp
    tokens { id name outcome price }
    conditionId
    active
    acceptingOrders
  }
}`

// Client is a GraphQL client for the Polymarket subgraph.
type Client struct {
	endpoint   string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a subgraph client. endpoint is the full gateway URL,
// e.g. "https://gateway.thegraph.com/api/<key>/subgraphs/id/<id>".
func NewClient(endpoint string, pageSize int, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "subgraph")),
		now:     time.Now,
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// subgraphMarket is a market node as returned by the subgraph.
type subgraphMarket struct {
	ID               string          `json:"id"`
	Question         string          `json:"question"`
	CreatedTimestamp string          `json:"createdTimestamp"`
	ConditionID      string          `json:"conditionId"`
	Active           bool            `json:"active"`
	AcceptingOrders  bool            `json:"acceptingOrders"`
	Tokens           []subgraphToken `json:"tokens"`
}

type subgraphToken struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Outcome string          `json:"outcome"`
	Price   json.RawMessage `json:"price"`
}

func (m subgraphMarket) toDomain() (domain.Market, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(m.CreatedTimestamp), 10, 64)
	if err != nil {
		return domain.Market{}, fmt.Errorf("%w: market %s createdTimestamp %q", domain.ErrDataIntegrity, m.ID, m.CreatedTimestamp)
	}
	dm := domain.Market{
		ID:              m.ID,
		Question:        m.Question,
		ConditionID:     m.ConditionID,
		CreatedAt:       time.Unix(ts, 0).UTC(),
		Active:          m.Active,
		AcceptingOrders: m.AcceptingOrders,
		Source:          domain.SourceSubgraph,
	}
	for _, t := range m.Tokens {
		label := t.Outcome
		if label == "" {
			label = t.Name
		}
		dm.Tokens = append(dm.Tokens, domain.OutcomeToken{
			TokenID: t.ID,
			Outcome: label,
			Price:   parsePrice(t.Price),
		})
	}
	return dm, nil
}

// parsePrice accepts the price as a JSON number or numeric string.
func parsePrice(raw json.RawMessage) float64 {
	s := strings.Trim(string(raw), `"`)
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return p
}

// FetchNewMarkets returns active markets created within maxAge, newest
// first. Any transport, status or GraphQL error is reported as
// domain.ErrSourceUnavailable so the caller can fall back.
func (c *Client) FetchNewMarkets(ctx context.Context, maxAge time.Duration) ([]domain.Market, error) {
	minTS := c.now().Add(-maxAge).Unix()
	return c.fetch(ctx, minTS)
}

// FetchAllMarkets returns the newest page of active markets with no age
// bound.
func (c *Client) FetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	return c.fetch(ctx, 0)
}

func (c *Client) fetch(ctx context.Context, minTS int64) ([]domain.Market, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("subgraph: endpoint not configured: %w", domain.ErrSourceUnavailable)
	}

	data, err := c.doQuery(ctx, newMarketsQuery, map[string]any{
		"min_timestamp": strconv.FormatInt(minTS, 10),
		"limit":         c.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch markets: %w: %w", domain.ErrSourceUnavailable, err)
	}

	var result struct {
		Markets *[]subgraphMarket `json:"markets"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Markets == nil {
		return nil, fmt.Errorf("subgraph: unexpected response shape: %w", domain.ErrSourceUnavailable)
	}

	markets := make([]domain.Market, 0, len(*result.Markets))
	for _, m := range *result.Markets {
		dm, err := m.toDomain()
		if err != nil {
			c.logger.WarnContext(ctx, "subgraph: skipping malformed market",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		markets = append(markets, dm)
	}

	c.logger.DebugContext(ctx, "subgraph: markets fetched",
		slog.Int("count", len(markets)),
		slog.Int64("min_timestamp", minTS),
	)
	return markets, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w: %w", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", domain.ErrTransientNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, len(gqlResp.Errors))
		for i, e := range gqlResp.Errors {
			msgs[i] = e.Message
		}
		return nil, errors.New("graphql errors: " + strings.Join(msgs, "; "))
	}
	return gqlResp.Data, nil
}

var _ domain.MarketSource = (*Client)(nil)
