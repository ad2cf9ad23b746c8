package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API.
type DataClient struct {
	rest restClient
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string, limiter *rate.Limiter) *DataClient {
	return &DataClient{rest: newRESTClient(baseURL, limiter)}
}

// PositionsValue returns the aggregate mark value of the user's open
// positions as reported by GET /value.
func (d *DataClient) PositionsValue(ctx context.Context, user string) (float64, error) {
	body, err := d.rest.doGet(ctx, "/value?user="+url.QueryEscape(user))
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: value: %w", err)
	}

	var entries []ValueEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("polymarket/data: decode value: %w: %w", domain.ErrDataIntegrity, err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("polymarket/data: value for %s: %w", user, domain.ErrNotFound)
	}
	for _, e := range entries {
		if strings.EqualFold(e.User, user) {
			return float64(e.Value), nil
		}
	}
	return float64(entries[0].Value), nil
}
