package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/newmarketbot/internal/crypto"
	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

const (
	// usdcDecimals scales USDC and outcome-token amounts to integer units.
	usdcDecimals = 1e6

	// endCursor marks the last page of a CLOB cursor listing.
	endCursor = "LTE="

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It places and cancels orders, answers midpoint price
// queries, and provides the cursor-paged market listing used as the last
// discovery fallback. Without a signer the client is read-only.
type ClobClient struct {
	rest     restClient
	signer   *crypto.Signer
	hmacAuth *crypto.HMACAuth
	funder   string
	sigType  int
	maxPages int
	logger   *slog.Logger
}

// ClobOptions configures a ClobClient.
type ClobOptions struct {
	BaseURL       string
	Limiter       *rate.Limiter
	Signer        *crypto.Signer // nil disables trading
	Funder        string         // proxy wallet holding funds; defaults to the signer address
	SignatureType int
	MaxPages      int
}

// NewClobClient creates a new CLOB REST client.
func NewClobClient(opts ClobOptions, logger *slog.Logger) *ClobClient {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}
	funder := opts.Funder
	if funder == "" && opts.Signer != nil {
		funder = opts.Signer.Address().Hex()
	}
	return &ClobClient{
		rest:     newRESTClient(opts.BaseURL, opts.Limiter),
		signer:   opts.Signer,
		funder:   funder,
		sigType:  opts.SignatureType,
		maxPages: maxPages,
		logger:   logger.With(slog.String("component", "clob")),
	}
}

// CanTrade reports whether the client has signing credentials.
func (c *ClobClient) CanTrade() bool {
	return c.signer != nil
}

// PlaceOrder signs and submits a limit order.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.signer == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: place order: %w", domain.ErrTradingDisabled)
	}
	if req.Size <= 0 || req.Price <= 0 || req.Price >= 1 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: size=%f price=%f", domain.ErrInvalidOrder, req.Size, req.Price)
	}
	if c.hmacAuth == nil {
		if err := c.DeriveAPIKey(ctx); err != nil {
			return domain.OrderResult{}, err
		}
	}

	payload := c.buildPayload(req)
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %w", domain.ErrSigningFailed, err)
	}

	orderType := req.Type
	if orderType == "" {
		orderType = domain.OrderTypeGTC
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": string(orderType),
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Message)
	}
	return result, nil
}

// buildPayload converts a request into the integer amounts the exchange
// signs. A BUY gives USDC (maker) for tokens (taker); a SELL is the reverse.
func (c *ClobClient) buildPayload(req domain.OrderRequest) crypto.OrderPayload {
	tokens := toUnits(req.Size)
	usdc := toUnits(req.Size * req.Price)

	side := 0
	makerAmt, takerAmt := usdc, tokens
	if req.Side == domain.OrderSideSell {
		side = 1
		makerAmt, takerAmt = tokens, usdc
	}

	return crypto.OrderPayload{
		Salt:          strconv.FormatUint(uint64(uuid.New().ID()), 10),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmt, 10),
		TakerAmount:   strconv.FormatInt(takerAmt, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.sigType,
	}
}

func toUnits(v float64) int64 {
	return int64(math.Round(v * usdcDecimals))
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: cancel order: %w", domain.ErrTradingDisabled)
	}
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := result.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel %s failed: %s", orderID, reason)
	}
	return nil
}

// ListOpenOrders returns all open orders for the authenticated wallet.
func (c *ClobClient) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("polymarket/clob: list orders: %w", domain.ErrTradingDisabled)
	}

	var orders []domain.Order
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		path := "/data/orders"
		if cursor != "" {
			path += "?next_cursor=" + url.QueryEscape(cursor)
		}
		respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
		}

		var resp struct {
			Data       []APIOrder `json:"data"`
			NextCursor string     `json:"next_cursor"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
		}
		for i := range resp.Data {
			orders = append(orders, resp.Data[i].ToDomainOrder())
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}
	return orders, nil
}

// CurrentPrice returns the order-book midpoint for a token.
func (c *ClobClient) CurrentPrice(ctx context.Context, tokenID string) (float64, error) {
	body, err := c.rest.doGet(ctx, "/midpoint?token_id="+url.QueryEscape(tokenID))
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}
	var resp struct {
		Mid flexFloat `json:"mid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w: %w", domain.ErrDataIntegrity, err)
	}
	if resp.Mid <= 0 {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, domain.ErrNotFound)
	}
	return float64(resp.Mid), nil
}

// FetchAllMarkets walks the cursor-paged CLOB /markets listing.
func (c *ClobClient) FetchAllMarkets(ctx context.Context) ([]domain.Market, error) {
	var all []domain.Market
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		path := "/markets"
		if cursor != "" {
			path += "?next_cursor=" + url.QueryEscape(cursor)
		}
		body, err := c.rest.doGet(ctx, path)
		if err != nil {
			if len(all) > 0 {
				break
			}
			return nil, fmt.Errorf("polymarket/clob: get markets: %w", err)
		}

		var resp ClobMarketsPage
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("polymarket/clob: decode markets: %w: %w", domain.ErrDataIntegrity, err)
		}
		for i := range resp.Data {
			all = append(all, resp.Data[i].ToDomainMarket())
		}
		if resp.NextCursor == "" || resp.NextCursor == endCursor {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}

// FetchNewMarkets returns CLOB-listed markets that began accepting orders
// within maxAge.
func (c *ClobClient) FetchNewMarkets(ctx context.Context, maxAge time.Duration) ([]domain.Market, error) {
	all, err := c.FetchAllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	return domain.FilterByAge(all, time.Now(), maxAge), nil
}

// DeriveAPIKey performs the CLOB L1 auth flow to obtain HMAC API
// credentials. It signs a ClobAuth EIP-712 message and sends it with the
// POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP and POLY_NONCE headers.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrTradingDisabled)
	}
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rest.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	respBody, err := c.rest.do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	c.logger.InfoContext(ctx, "clob: api credentials derived", slog.String("address", address))
	return nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.hmacAuth == nil {
		if err := c.DeriveAPIKey(ctx); err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.rest.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	signPath := path
	if i := strings.IndexByte(signPath, '?'); i >= 0 {
		signPath = signPath[:i]
	}
	for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, signPath, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.rest.do(req)
}

var (
	_ domain.OrderGateway = (*ClobClient)(nil)
	_ domain.PriceSource  = (*ClobClient)(nil)
	_ domain.MarketSource = (*ClobClient)(nil)
)
