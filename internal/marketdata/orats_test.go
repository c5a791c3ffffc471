package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *OratsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOratsClient(OratsConfig{
		BaseURL:            srv.URL,
		Token:              "test-token",
		RateLimitPerMinute: 60000, // effectively unthrottled in tests
	})
	require.NoError(t, err)
	return c
}

func TestNewOratsClient_RequiresToken(t *testing.T) {
	_, err := NewOratsClient(OratsConfig{})
	assert.Error(t, err)
}

func TestDecodeRows(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantRows int
		wantKind string
	}{
		{"bare array", `[{"ticker":"AAPL","strike":95}]`, 1, ""},
		{"data envelope", `{"data":[{"ticker":"AAPL","strike":95},{"ticker":"AAPL","strike":96}]}`, 2, ""},
		{"empty array", `[]`, 0, ""},
		{"empty body", ``, 0, "empty"},
		{"whitespace body", "  \n ", 0, "empty"},
		{"envelope without data", `{"message":"ok"}`, 0, "empty"},
		{"malformed array", `[{"ticker":`, 0, "parse"},
		{"malformed envelope", `{"data":{"not":"an array"}}`, 0, "parse"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := decodeRows("AAPL", []byte(tc.body))
			if tc.wantKind == "" {
				require.NoError(t, err)
				assert.Len(t, rows, tc.wantRows)
				return
			}
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.wantKind, pe.Kind)
		})
	}
}

func TestGetChain_RequestShape(t *testing.T) {
	var gotPath, gotTicker, gotDTE, gotToken string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTicker = r.URL.Query().Get("ticker")
		gotDTE = r.URL.Query().Get("dte")
		gotToken = r.URL.Query().Get("token")
		w.Write([]byte(`{"data":[{"ticker":"AAPL","strike":95,"expirDate":"2026-01-16","dte":30}]}`))
	})

	rows, err := c.GetChain(context.Background(), "AAPL", 25, 45)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/strikes", gotPath)
	assert.Equal(t, "AAPL", gotTicker)
	assert.Equal(t, "25,45", gotDTE)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, 95.0, rows[0].Strike)
}

func TestGet_StatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantKind string
	}{
		{http.StatusUnauthorized, "auth"},
		{http.StatusForbidden, "auth"},
		{http.StatusTooManyRequests, "rate_limit"},
		{http.StatusInternalServerError, "network"},
		{http.StatusBadGateway, "network"},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := c.GetChain(context.Background(), "AAPL", 25, 45)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.wantKind, pe.Kind)
		})
	}
}

func TestGetEnrichment_BatchValidation(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := c.GetEnrichment(context.Background(), nil)
	assert.Error(t, err)

	big := make([]string, EnrichmentBatchSize+1)
	for i := range big {
		big[i] = "AAPL260116P00095000"
	}
	_, err = c.GetEnrichment(context.Background(), big)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad_request", pe.Kind)
}

func TestGetEnrichment_JoinsSymbols(t *testing.T) {
	var gotTickers string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTickers = r.URL.Query().Get("tickers")
		w.Write([]byte(`[{"optionSymbol":"A260116P00095000","strike":95}]`))
	})

	rows, err := c.GetEnrichment(context.Background(), []string{"A260116P00095000", "A260116P00096000"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "A260116P00095000,A260116P00096000", gotTickers)
}

func TestGetContext_ParsesSummary(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/summaries", r.URL.Path)
		w.Write([]byte(`{"data":[{"ticker":"AAPL","stockPrice":187.5,"ivRank":42.5,"contango":-0.015,"skew":0.03,"exMove1Sd":8.2,"nextErnDate":"2026-04-30","macroDates":["2026-03-18","bogus"]}]}`))
	})

	octx, err := c.GetContext(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, octx)
	assert.Equal(t, 42.5, octx.IVRank)
	assert.Equal(t, -0.015, octx.TermSlope)
	assert.Equal(t, 0.03, octx.SkewPct)
	assert.Equal(t, 8.2, octx.ExpectedMove1SD)
	require.NotNil(t, octx.EarningsDate)
	assert.Equal(t, "2026-04-30", octx.EarningsDate.Format("2006-01-02"))
	assert.Len(t, octx.MacroEvents, 1, "unparseable dates are dropped")
}

func TestGetContext_EmptySummaryMeansNoContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	octx, err := c.GetContext(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, octx)
}

func TestGetContext_OtherFailuresPropagate(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetContext(context.Background(), "AAPL")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "auth", pe.Kind)
}

func TestGetSpot(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ticker":"AAPL","stockPrice":187.5}]`))
	})

	spot, err := c.GetSpot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.5, spot)
}

func TestGetSpot_MissingPrice(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ticker":"AAPL"}]`))
	})

	_, err := c.GetSpot(context.Background(), "AAPL")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "empty", pe.Kind)
}

func TestListExpirations_Dedupes(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"ticker":"AAPL","strike":95,"expirDate":"2026-01-16"},
			{"ticker":"AAPL","strike":96,"expirDate":"2026-01-16"},
			{"ticker":"AAPL","strike":95,"expirDate":"2026-02-20"}
		]`))
	})

	exps, err := c.ListExpirations(context.Background(), "AAPL", 25, 60)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-16", "2026-02-20"}, exps)
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewNetworkError("AAPL", "request failed", cause)
	assert.ErrorIs(t, err, cause)
}
