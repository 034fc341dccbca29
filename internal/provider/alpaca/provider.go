// Package alpaca adapts Alpaca's market-data bars endpoint to the
// repository.BarProvider capability, grounded on
// original_source/src/Go/data_fetching/official_SDK/alpaca_go_fetch.go for
// the credential/base-URL shape and
// original_source/src/market_data_ingestor/src/providers/alpaca_rest.rs for
// the wire response shape (bars keyed by symbol, t/o/h/l/c/v/n/vw fields,
// next_page_token pagination).
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	xhttp "assetsync/pkg/http"
)

// Config carries the per-provider credentials and static capability
// declaration (spec.md §6.1).
type Config struct {
	APIKeyID       string
	APISecretKey   string
	BaseURL        string
	Plan           model.SubscriptionPlan
	RequestTimeout time.Duration
}

// Provider implements repository.BarProvider against Alpaca's stocks bars
// endpoint. Crypto/futures asset classes are out of scope for this concrete
// adapter (spec.md §2A: only alpaca for us_equity is wired end-to-end); a
// second provider can be registered in the same map without touching the
// planner or runtime.
type Provider struct {
	cfg    Config
	client *xhttp.Client
}

func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://data.alpaca.markets"
	}
	return &Provider{
		cfg: cfg,
		client: xhttp.NewClient(
			xhttp.WithTimeout(cfg.RequestTimeout),
			xhttp.WithBaseHeaders(map[string]string{
				"APCA-API-KEY-ID":     cfg.APIKeyID,
				"APCA-API-SECRET-KEY": cfg.APISecretKey,
			}),
		),
	}
}

// barsResponse mirrors Alpaca's per-symbol bars payload.
type barsResponse struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
	Symbol        string      `json:"symbol"`
}

type alpacaBar struct {
	T  time.Time `json:"t"`
	O  float64   `json:"o"`
	H  float64   `json:"h"`
	L  float64   `json:"l"`
	C  float64   `json:"c"`
	V  float64   `json:"v"`
	N  *int64    `json:"n"`
	VW *float64  `json:"vw"`
}

// parseRetryAfter accepts either form RFC 7231 allows: a delay in seconds,
// or an HTTP-date. Alpaca documents the delay-seconds form for its rate
// limiter; the HTTP-date form is handled for robustness.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

func formatTimeframe(tf model.Timeframe) string {
	var unit string
	switch tf.Unit {
	case model.Minute:
		unit = "Min"
	case model.Hour:
		unit = "Hour"
	case model.Day:
		unit = "Day"
	case model.Week:
		unit = "Week"
	case model.Month:
		unit = "Month"
	}
	return fmt.Sprintf("%d%s", tf.Amount, unit)
}

// FetchBars requests one page of bars for key.Symbol over [start, end),
// following the maxBars/cursor contract of repository.BarProvider.
func (p *Provider) FetchBars(ctx context.Context, key model.StreamKey, start, end time.Time, maxBars int, cursor string) (model.FetchPage, error) {
	url := fmt.Sprintf("%s/v2/stocks/%s/bars", p.cfg.BaseURL, key.Symbol)

	query := map[string][]string{
		"timeframe":  {formatTimeframe(key.Timeframe)},
		"start":      {start.UTC().Format(time.RFC3339)},
		"end":        {end.UTC().Format(time.RFC3339)},
		"limit":      {strconv.Itoa(maxBars)},
		"adjustment": {"raw"},
		"sort":       {"asc"},
	}
	if cursor != "" {
		query["page_token"] = []string{cursor}
	}

	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         url,
		QueryParams: query,
	}

	resp, err := p.client.SendRequest(ctx, opts)
	if err != nil {
		return model.FetchPage{}, errs.NewTransient(fmt.Errorf("alpaca: fetch bars: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		err := fmt.Errorf("alpaca: status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				return model.FetchPage{}, errs.NewTransientWithRetryAfter(err, d)
			}
		}
		return model.FetchPage{}, errs.NewTransient(err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.FetchPage{}, errs.NewPermanent("AlpacaRejected", fmt.Errorf("alpaca: status %d", resp.StatusCode))
	}

	var body barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.FetchPage{}, errs.NewTransient(fmt.Errorf("alpaca: decode response: %w", err))
	}

	bars := make([]model.Bar, 0, len(body.Bars))
	for _, b := range body.Bars {
		bars = append(bars, model.Bar{
			OpenUTC:    b.T.UTC(),
			Open:       b.O,
			High:       b.H,
			Low:        b.L,
			Close:      b.C,
			Volume:     b.V,
			TradeCount: b.N,
			VWAP:       b.VW,
		})
	}

	page := model.FetchPage{Bars: bars}
	if body.NextPageToken != nil {
		page.NextCursor = *body.NextPageToken
	}
	return page, nil
}

// Limits declares Alpaca's request budget and minimum lag for the configured
// subscription plan; any plan other than paid or direct gets the free-tier
// values (spec.md §6.1).
func (p *Provider) Limits() repository.ProviderLimits {
	limits := repository.ProviderLimits{
		MaxBarsPerRequest: 10000,
		SubscriptionPlan:  p.cfg.Plan,
	}
	switch p.cfg.Plan {
	case model.PlanPaid:
		limits.RequestsPerMinute = 10000
		limits.MinLag = 0
	case model.PlanDirect:
		limits.RequestsPerMinute = 10000
		limits.MinLag = 0
	default: // model.PlanFree
		limits.RequestsPerMinute = 200
		limits.MinLag = 15 * time.Minute
	}
	return limits
}
