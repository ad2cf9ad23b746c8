package subgraph

import (
	"context"
	"encoding/json"
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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchNewMarkets(t *testing.T) {
	now := time.Unix(1_700_000_600, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "createdTimestamp_gt")
		assert.Equal(t, "1700000000", req.Variables["min_timestamp"])
		assert.EqualValues(t, 50, req.Variables["limit"])

		fmt.Fprint(w, `{"data":{"markets":[
			{"id":"m1","question":"Q1","createdTimestamp":"1700000300","conditionId":"0xc1","active":true,"acceptingOrders":true,
			 "tokens":[{"id":"t1","name":"Yes","outcome":"Yes","price":"0.5"},{"id":"t2","name":"No","outcome":"","price":0.5}]},
			{"id":"bad","question":"Q2","createdTimestamp":"soon","active":true,"acceptingOrders":true,"tokens":[]}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50, nil, testLogger())
	c.now = func() time.Time { return now }

	markets, err := c.FetchNewMarkets(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, domain.SourceSubgraph, m.Source)
	assert.Equal(t, int64(1700000300), m.CreatedAt.Unix())
	require.Len(t, m.Tokens, 2)
	assert.Equal(t, "No", m.Tokens[1].Outcome)
	assert.InDelta(t, 0.5, m.Tokens[1].Price, 1e-9)
}

func TestFetchNewMarkets_GraphQLErrorIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"indexer down"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil, testLogger())
	_, err := c.FetchNewMarkets(context.Background(), time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
	assert.Contains(t, err.Error(), "indexer down")
}

func TestFetchNewMarkets_HTTPErrorIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil, testLogger())
	_, err := c.FetchNewMarkets(context.Background(), time.Minute)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestFetchNewMarkets_MissingMarketsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, nil, testLogger())
	_, err := c.FetchNewMarkets(context.Background(), time.Minute)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestFetch_NoEndpoint(t *testing.T) {
	c := NewClient("", 0, nil, testLogger())
	_, err := c.FetchAllMarkets(context.Background())
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}
