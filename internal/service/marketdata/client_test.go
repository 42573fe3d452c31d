package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() drepo.HistoryRequest {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return drepo.HistoryRequest{
		Symbol:    "NSE:SBIN-EQ",
		Timeframe: models.TF1D,
		Range:     models.DateSubRange{Start: start, End: start.AddDate(0, 0, 10)},
	}
}

func TestHistory_DecodesCandlesAndSendsAuth(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/data/history", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"s":"ok","candles":[[1704067200,10,12,9,11,1000],[1704153600,11,13,10,12,2000],[1]]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "APP-100", "tok")
	resp, err := c.History(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "APP-100:tok", gotAuth)
	assert.Equal(t, []string{"NSE:SBIN-EQ"}, gotQuery["symbol"])
	assert.Equal(t, []string{"D"}, gotQuery["resolution"])
	assert.Equal(t, []string{"1704067200"}, gotQuery["range_from"])
	assert.Equal(t, []string{"0"}, gotQuery["date_format"])

	assert.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Candles, 2, "malformed rows are skipped")
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), resp.Candles[0].Time)
	assert.Equal(t, 12.0, resp.Candles[1].Close)
	assert.Equal(t, 2000.0, resp.Candles[1].Volume)
}

func TestHistory_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s":"no_data","candles":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "a", "b").History(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, resp.Status)
	assert.Empty(t, resp.Candles)
}

func TestHistory_HTTPErrorCarriesProviderCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"s":"error","code":-16,"message":"token expired"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "a", "b").History(context.Background(), testRequest())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, -16, apiErr.Code)
	assert.Equal(t, "token expired", apiErr.Message)
}

func TestHistory_HTTPErrorWithoutJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "a", "b").History(context.Background(), testRequest())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestHistory_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, "a", "b").History(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
