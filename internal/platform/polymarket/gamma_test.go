package polymarket_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gammaMarketJSON(id string, created time.Time) string {
	return fmt.Sprintf(`{
		"id": %q,
		"question": "Will %s happen?",
		"conditionId": "0xcond%s",
		"slug": "market-%s",
		"active": true,
		"closed": "false",
		"acceptingOrders": true,
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.45\",\"0.55\"]",
		"clobTokenIds": "[\"%s-yes\",\"%s-no\"]",
		"liquidity": "1500.5",
		"volume": 320,
		"createdAt": %q
	}`, id, id, id, id, id, id, created.UTC().Format(time.RFC3339))
}

func TestGammaClient_GetMarkets(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("closed"))
		assert.Equal(t, "createdAt", r.URL.Query().Get("order"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", gammaMarketJSON("m1", now))
	}))
	defer srv.Close()

	client := polymarket.NewGammaClient(srv.URL, nil, 100, 1, discardLogger())
	markets, err := client.GetMarkets(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "0xcondm1", m.ConditionID)
	assert.True(t, m.IsBinary())
	assert.True(t, m.IsTradeable())
	assert.Equal(t, domain.SourceGamma, m.Source)
	assert.InDelta(t, 1500.5, m.Liquidity, 0.001)

	yes, ok := m.TokenForOutcome("YES")
	require.True(t, ok)
	assert.Equal(t, "m1-yes", yes.TokenID)
	assert.InDelta(t, 0.45, yes.Price, 0.0001)
}

func TestGammaClient_SkipsMalformedItems(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[%s, {"id":"bad","clobTokenIds":"not-json"}]`, gammaMarketJSON("good", now))
	}))
	defer srv.Close()

	client := polymarket.NewGammaClient(srv.URL, nil, 100, 1, discardLogger())
	markets, err := client.GetMarkets(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "good", markets[0].ID)
}

func TestGammaClient_FetchNewMarkets_FiltersByAge(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s]",
			gammaMarketJSON("fresh", now.Add(-2*time.Minute)),
			gammaMarketJSON("stale", now.Add(-3*time.Hour)),
		)
	}))
	defer srv.Close()

	client := polymarket.NewGammaClient(srv.URL, nil, 100, 1, discardLogger())
	markets, err := client.FetchNewMarkets(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "fresh", markets[0].ID)
}

func TestGammaClient_Pagination(t *testing.T) {
	now := time.Now()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprintf(w, "[%s,%s]", gammaMarketJSON("a", now), gammaMarketJSON("b", now))
		case "2":
			fmt.Fprintf(w, "[%s]", gammaMarketJSON("c", now))
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	}))
	defer srv.Close()

	client := polymarket.NewGammaClient(srv.URL, nil, 2, 5, discardLogger())
	markets, err := client.FetchAllMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 3)
	assert.Equal(t, 2, calls)
}

func TestGammaClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := polymarket.NewGammaClient(srv.URL, nil, 100, 1, discardLogger())
	_, err := client.FetchAllMarkets(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientNetwork))
}
