package polymarket_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/newmarketbot/internal/domain"
	"github.com/alanyoungcy/newmarketbot/internal/platform/polymarket"
)

func TestDataClient_PositionsValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/value", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("user"))
		fmt.Fprint(w, `[{"user":"0xABC","value":42.75}]`)
	}))
	defer srv.Close()

	client := polymarket.NewDataClient(srv.URL, nil)
	v, err := client.PositionsValue(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.InDelta(t, 42.75, v, 1e-9)
}

func TestDataClient_PositionsValue_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := polymarket.NewDataClient(srv.URL, nil)
	_, err := client.PositionsValue(context.Background(), "0xabc")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDataClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := polymarket.NewDataClient(srv.URL, polymarket.NewLimiter(50))
	_, err := client.PositionsValue(context.Background(), "0xabc")
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}
