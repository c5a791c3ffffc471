package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/options-engine/internal/observ"
)

// OratsClient implements ChainProvider against the ORATS-style data API:
// a "strikes" endpoint filtered by ticker and dte range, and a
// "strikes/options" endpoint that accepts up to ten option symbols per call.
type OratsClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// OratsConfig holds client configuration.
type OratsConfig struct {
	BaseURL            string
	Token              string
	TimeoutSeconds     int
	RateLimitPerMinute int
}

// NewOratsClient creates a live vendor client. The token is required; the
// API rejects anonymous requests.
func NewOratsClient(cfg OratsConfig) (*OratsClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("vendor token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.orats.io/datav2"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}

	return &OratsClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
	}, nil
}

// rowEnvelope accepts both response shapes the vendor serves: a bare JSON
// array, or an object with a "data" array.
func decodeRows(symbol string, body []byte) ([]ChainRow, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, NewEmptyError(symbol, "empty response body")
	}

	if strings.HasPrefix(trimmed, "[") {
		var rows []ChainRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, NewParseError(symbol, "malformed row array", err)
		}
		return rows, nil
	}

	var env struct {
		Data []ChainRow `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, NewParseError(symbol, "malformed row envelope", err)
	}
	if env.Data == nil {
		return nil, NewEmptyError(symbol, "response has no data array")
	}
	return env.Data, nil
}

func (c *OratsClient) get(ctx context.Context, symbol, endpoint string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, NewNetworkError(symbol, "rate limiter interrupted", err)
	}

	params.Set("token", c.token)
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewNetworkError(symbol, "failed to create request", err)
	}
	req.Header.Add("Accept", "application/json")

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		observ.IncCounter("vendor_requests_total", map[string]string{"endpoint": endpoint, "result": "network_error"})
		return nil, NewNetworkError(symbol, "request failed", err)
	}
	defer res.Body.Close()

	observ.RecordDuration("vendor_request_duration", time.Since(start), map[string]string{"endpoint": endpoint})

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		observ.IncCounter("vendor_requests_total", map[string]string{"endpoint": endpoint, "result": "auth_error"})
		return nil, NewAuthError(symbol, fmt.Sprintf("vendor rejected token: %s", res.Status))
	case res.StatusCode == http.StatusTooManyRequests:
		observ.IncCounter("vendor_requests_total", map[string]string{"endpoint": endpoint, "result": "rate_limited"})
		return nil, &ProviderError{Kind: "rate_limit", Symbol: symbol, Message: res.Status}
	case res.StatusCode != http.StatusOK:
		observ.IncCounter("vendor_requests_total", map[string]string{"endpoint": endpoint, "result": "http_error"})
		return nil, NewNetworkError(symbol, fmt.Sprintf("non-200 response: %s", res.Status), nil)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, NewNetworkError(symbol, "failed to read response body", err)
	}

	observ.IncCounter("vendor_requests_total", map[string]string{"endpoint": endpoint, "result": "success"})
	return body, nil
}

func (c *OratsClient) GetChain(ctx context.Context, symbol string, dteMin, dteMax int) ([]ChainRow, error) {
	params := url.Values{}
	params.Set("ticker", symbol)
	params.Set("dte", fmt.Sprintf("%d,%d", dteMin, dteMax))

	body, err := c.get(ctx, symbol, "strikes", params)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(symbol, body)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"symbol": symbol, "rows": len(rows), "dte_min": dteMin, "dte_max": dteMax}).
		Debug("fetched chain rows")
	return rows, nil
}

func (c *OratsClient) ListExpirations(ctx context.Context, symbol string, dteMin, dteMax int) ([]string, error) {
	rows, err := c.GetChain(ctx, symbol, dteMin, dteMax)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		if r.ExpirDate == "" || seen[r.ExpirDate] {
			continue
		}
		seen[r.ExpirDate] = true
		out = append(out, r.ExpirDate)
	}
	return out, nil
}

func (c *OratsClient) GetEnrichment(ctx context.Context, optionSymbols []string) ([]ChainRow, error) {
	if len(optionSymbols) == 0 {
		return nil, NewBadRequestError("", "no option symbols requested")
	}
	if len(optionSymbols) > EnrichmentBatchSize {
		return nil, NewBadRequestError("", fmt.Sprintf("batch of %d exceeds limit %d", len(optionSymbols), EnrichmentBatchSize))
	}

	params := url.Values{}
	params.Set("tickers", strings.Join(optionSymbols, ","))

	body, err := c.get(ctx, optionSymbols[0], "strikes/options", params)
	if err != nil {
		return nil, err
	}

	return decodeRows(optionSymbols[0], body)
}

// summaryDTO is the subset of the vendor's per-ticker summary we consume.
type summaryDTO struct {
	Ticker          string   `json:"ticker"`
	StockPrice      float64  `json:"stockPrice"`
	IVRank          float64  `json:"ivRank"`
	ContangoSlope   float64  `json:"contango"`
	SkewPct         float64  `json:"skew"`
	ExpectedMove1SD float64  `json:"exMove1Sd"`
	EarningsDate    string   `json:"nextErnDate"`
	MacroDates      []string `json:"macroDates"`
}

func (c *OratsClient) fetchSummary(ctx context.Context, symbol string) (*summaryDTO, error) {
	params := url.Values{}
	params.Set("ticker", symbol)

	body, err := c.get(ctx, symbol, "summaries", params)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, NewEmptyError(symbol, "empty summary body")
	}

	var dtos []summaryDTO
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &dtos); err != nil {
			return nil, NewParseError(symbol, "malformed summary array", err)
		}
	} else {
		var env struct {
			Data []summaryDTO `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, NewParseError(symbol, "malformed summary envelope", err)
		}
		dtos = env.Data
	}

	if len(dtos) == 0 {
		return nil, NewEmptyError(symbol, "summary has no rows")
	}
	return &dtos[0], nil
}

func (c *OratsClient) GetContext(ctx context.Context, symbol string) (*OptionContext, error) {
	dto, err := c.fetchSummary(ctx, symbol)
	if err != nil {
		// Context is best-effort: an empty summary is "no context", every
		// other failure propagates.
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Kind == "empty" {
			return nil, nil
		}
		return nil, err
	}

	octx := &OptionContext{
		Symbol:          symbol,
		IVRank:          dto.IVRank,
		TermSlope:       dto.ContangoSlope,
		SkewPct:         dto.SkewPct,
		ExpectedMove1SD: dto.ExpectedMove1SD,
	}
	if dto.EarningsDate != "" {
		if t, err := time.Parse("2006-01-02", dto.EarningsDate); err == nil {
			octx.EarningsDate = &t
		}
	}
	for _, d := range dto.MacroDates {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			octx.MacroEvents = append(octx.MacroEvents, t)
		}
	}
	return octx, nil
}

func (c *OratsClient) GetSpot(ctx context.Context, symbol string) (float64, error) {
	dto, err := c.fetchSummary(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if dto.StockPrice <= 0 {
		return 0, NewEmptyError(symbol, "summary has no stock price")
	}
	return dto.StockPrice, nil
}
