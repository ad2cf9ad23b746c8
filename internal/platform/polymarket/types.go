package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. Empty strings
// and null decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexFloat: %w", err)
	}
	*f = flexFloat(n)
	return nil
}

// parseTimestamp accepts RFC3339 (with or without fractional seconds), a bare
// date-time, or unix seconds / milliseconds.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decodeStringList decodes the JSON-encoded string arrays Gamma uses for
// outcomes, prices and token ids, e.g. "[\"Yes\",\"No\"]".
func decodeStringList(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// GammaMarket is a market as returned by the Gamma API.
type GammaMarket struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	ConditionID     string    `json:"conditionId"`
	Slug            string    `json:"slug"`
	Active          flexBool  `json:"active"`
	Closed          flexBool  `json:"closed"`
	AcceptingOrders flexBool  `json:"acceptingOrders"`
	Outcomes        string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices   string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs    string    `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Liquidity       flexFloat `json:"liquidity"`
	Volume          flexFloat `json:"volume"`
	CreatedAt       string    `json:"createdAt"`
	StartDate       string    `json:"startDate"`
}

// ToDomainMarket converts a Gamma market to the canonical Market. A market
// whose token list cannot be decoded is a data-integrity failure for that
// single item.
func (m *GammaMarket) ToDomainMarket() (domain.Market, error) {
	outcomes, err := decodeStringList(m.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("%w: market %s outcomes: %v", domain.ErrDataIntegrity, m.ID, err)
	}
	tokenIDs, err := decodeStringList(m.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("%w: market %s token ids: %v", domain.ErrDataIntegrity, m.ID, err)
	}
	prices, _ := decodeStringList(m.OutcomePrices)

	dm := domain.Market{
		ID:              m.ID,
		Question:        m.Question,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		Active:          bool(m.Active),
		AcceptingOrders: bool(m.AcceptingOrders),
		Closed:          bool(m.Closed),
		Liquidity:       float64(m.Liquidity),
		Volume:          float64(m.Volume),
		Source:          domain.SourceGamma,
	}
	for i, id := range tokenIDs {
		tok := domain.OutcomeToken{TokenID: id}
		if i < len(outcomes) {
			tok.Outcome = outcomes[i]
		}
		if i < len(prices) {
			tok.Price, _ = strconv.ParseFloat(prices[i], 64)
		}
		dm.Tokens = append(dm.Tokens, tok)
	}

	if t, ok := parseTimestamp(m.CreatedAt); ok {
		dm.CreatedAt = t
	} else if t, ok := parseTimestamp(m.StartDate); ok {
		dm.CreatedAt = t
	}

	return dm, nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// ClobMarketsPage is one page of the CLOB /markets listing.
type ClobMarketsPage struct {
	Data       []ClobMarket `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

// ClobMarket is a market as returned by the CLOB API.
type ClobMarket struct {
	ConditionID             string      `json:"condition_id"`
	QuestionID              string      `json:"question_id"`
	Question                string      `json:"question"`
	MarketSlug              string      `json:"market_slug"`
	Active                  flexBool    `json:"active"`
	Closed                  flexBool    `json:"closed"`
	AcceptingOrders         flexBool    `json:"accepting_orders"`
	AcceptingOrderTimestamp string      `json:"accepting_order_timestamp"`
	Tokens                  []ClobToken `json:"tokens"`
}

// ClobToken is an outcome token inside a CLOB market.
type ClobToken struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
}

// ToDomainMarket converts a CLOB market to the canonical Market.
func (m *ClobMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:              m.ConditionID,
		Question:        m.Question,
		Slug:            m.MarketSlug,
		ConditionID:     m.ConditionID,
		Active:          bool(m.Active),
		AcceptingOrders: bool(m.AcceptingOrders),
		Closed:          bool(m.Closed),
		Source:          domain.SourceClob,
	}
	for _, t := range m.Tokens {
		dm.Tokens = append(dm.Tokens, domain.OutcomeToken{
			TokenID: t.TokenID,
			Outcome: t.Outcome,
			Price:   float64(t.Price),
		})
	}
	if t, ok := parseTimestamp(m.AcceptingOrderTimestamp); ok {
		dm.CreatedAt = t
	}
	return dm
}

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	MarketID     string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Side         string    `json:"side"`
	Type         string    `json:"order_type"`
	OriginalSize flexFloat `json:"original_size"`
	SizeMatched  flexFloat `json:"size_matched"`
	Price        flexFloat `json:"price"`
	CreatedAt    flexFloat `json:"created_at"`
}

// ToDomainOrder converts an APIOrder to a domain.Order.
func (a *APIOrder) ToDomainOrder() domain.Order {
	o := domain.Order{
		ID:         a.ID,
		MarketID:   a.MarketID,
		TokenID:    a.AssetID,
		Side:       domain.OrderSide(strings.ToUpper(a.Side)),
		Type:       domain.OrderType(strings.ToUpper(a.Type)),
		Price:      float64(a.Price),
		Size:       float64(a.OriginalSize),
		FilledSize: float64(a.SizeMatched),
		Status:     orderStatus(a.Status, true),
	}
	if a.CreatedAt > 0 {
		o.CreatedAt = time.Unix(int64(a.CreatedAt), 0).UTC()
	}
	return o
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
		Status:      orderStatus(r.Status, r.Success),
	}
}

func orderStatus(s string, success bool) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "live", "open":
		return domain.OrderStatusOpen
	case "matched", "filled":
		return domain.OrderStatusMatched
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "delayed", "unmatched":
		return domain.OrderStatusPending
	}
	if success {
		return domain.OrderStatusPending
	}
	return domain.OrderStatusFailed
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// ValueEntry is one element of the Data API /value response.
type ValueEntry struct {
	User  string    `json:"user"`
	Value flexFloat `json:"value"`
}
