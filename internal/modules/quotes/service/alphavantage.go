package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantage reads CURRENCY_EXCHANGE_RATE from the Alpha Vantage API.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Source = (*AlphaVantage)(nil)

func NewAlphaVantage(baseURL, apiKey string, client *http.Client) *AlphaVantage {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AlphaVantage{baseURL: baseURL, apiKey: apiKey, http: client}
}

type exchangeRateResponse struct {
	Rate *struct {
		From          string `json:"1. From_Currency Code"`
		To            string `json:"3. To_Currency Code"`
		Value         string `json:"5. Exchange Rate"`
		LastRefreshed string `json:"6. Last Refreshed"`
	} `json:"Realtime Currency Exchange Rate"`
	ErrorMessage string `json:"Error Message"`
	Information  string `json:"Information"`
	Note         string `json:"Note"`
}

func (a *AlphaVantage) Rate(ctx context.Context, from, to string) (Rate, error) {
	if a.apiKey == "" {
		return Rate{}, fmt.Errorf("%w: alpha vantage api key is not configured", ErrUpstream)
	}

	q := url.Values{}
	q.Set("function", "CURRENCY_EXCHANGE_RATE")
	q.Set("from_currency", from)
	q.Set("to_currency", to)
	q.Set("apikey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Rate{}, fmt.Errorf("AlphaVantage new request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: AlphaVantage do: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Rate{}, fmt.Errorf("%w: AlphaVantage read: %w", ErrUpstream, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Rate{}, fmt.Errorf("%w: http %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return Rate{}, fmt.Errorf("%w: http %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var r exchangeRateResponse
	if err := sonic.Unmarshal(data, &r); err != nil {
		return Rate{}, fmt.Errorf("%w: decode: %w", ErrUpstream, err)
	}

	switch {
	case r.Rate != nil:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Rate.Value), 64)
		if err != nil {
			return Rate{}, fmt.Errorf("%w: exchange rate %q: %w", ErrUpstream, r.Rate.Value, err)
		}
		return Rate{Value: v, LastRefreshed: r.Rate.LastRefreshed}, nil
	case r.ErrorMessage != "":
		return Rate{}, fmt.Errorf("%w: %s", ErrUpstream, r.ErrorMessage)
	case r.Information != "":
		return Rate{}, fmt.Errorf("%w: %s", ErrRateLimited, r.Information)
	case r.Note != "":
		return Rate{}, fmt.Errorf("%w: %s", ErrRateLimited, r.Note)
	}
	return Rate{}, fmt.Errorf("%w: unexpected response: %s", ErrUpstream, strings.TrimSpace(string(data)))
}
