package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	xhttp "HistPull/pkg/http"
)

// Provider response status values.
const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
	StatusError  = "error"
)

// APIError is a non-2xx reply from the market-data API.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market data api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the provider's history endpoint.
type Client struct {
	baseURL     string
	historyPath string
	appID       string
	accessToken string
	http        *xhttp.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHistoryPath overrides the history endpoint path.
func WithHistoryPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.historyPath = p
		}
	}
}

// WithHTTPClient sets the transport client.
func WithHTTPClient(hc *xhttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a history client for baseURL authenticated as appID with accessToken.
func NewClient(baseURL, appID, accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		historyPath: "/data/history",
		appID:       appID,
		accessToken: accessToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient()
	}
	return c
}

var _ drepo.HistoryProvider = (*Client)(nil)

type historyBody struct {
	S       string      `json:"s"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Candles [][]float64 `json:"candles"`
}

// History fetches candles for one sub-range. A non-2xx reply yields *APIError;
// transport failures are returned wrapped.
func (c *Client) History(ctx context.Context, req drepo.HistoryRequest) (*drepo.HistoryResponse, error) {
	raw, err := c.http.SendRaw(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + c.historyPath,
		Headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": c.appID + ":" + c.accessToken,
		},
		QueryParams: map[string][]string{
			"symbol":      {req.Symbol},
			"resolution":  {req.Timeframe.Resolution()},
			"date_format": {"0"},
			"range_from":  {strconv.FormatInt(req.Range.Start.Unix(), 10)},
			"range_to":    {strconv.FormatInt(req.Range.End.Unix(), 10)},
			"cont_flag":   {"1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	var body historyBody
	decodeErr := json.Unmarshal(raw.Body, &body)

	if raw.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: raw.StatusCode, Message: http.StatusText(raw.StatusCode)}
		if decodeErr == nil {
			apiErr.Code = body.Code
			if body.Message != "" {
				apiErr.Message = body.Message
			}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode history %s %s: %w", req.Symbol, req.Timeframe, decodeErr)
	}

	return &drepo.HistoryResponse{
		Status:  strings.ToLower(body.S),
		Code:    body.Code,
		Message: body.Message,
		Candles: toCandles(body.Candles),
	}, nil
}

func toCandles(rows [][]float64) []models.Candle {
	if len(rows) == 0 {
		return nil
	}
	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, models.Candle{
			Time:   time.Unix(int64(r[0]), 0).UTC(),
			Open:   r[1],
			High:   r[2],
			Low:    r[3],
			Close:  r[4],
			Volume: r[5],
		})
	}
	return out
}
