package iex

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iexcloud/pkg/core"
)

const dailyBars = `[
	{"date":"2024-02-29","open":1,"close":10,"volume":100},
	{"date":"2024-03-01","open":2,"close":11,"volume":110},
	{"date":"2024-03-04","open":3,"close":12,"volume":120},
	{"date":"2024-03-05","open":4,"close":13,"volume":130},
	{"date":"2024-03-06","open":5,"close":14,"volume":140}
]`

func TestChartRange(t *testing.T) {
	now := time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		daysAgo int
		want    string
		wantErr bool
	}{
		{name: "future", daysAgo: -2, wantErr: true},
		{name: "today", daysAgo: 0, want: "5d"},
		{name: "five days", daysAgo: 5, want: "5d"},
		{name: "three weeks", daysAgo: 21, want: "1m"},
		{name: "two months", daysAgo: 60, want: "3m"},
		{name: "five months", daysAgo: 150, want: "6m"},
		{name: "ten months", daysAgo: 300, want: "1y"},
		{name: "eighteen months", daysAgo: 540, want: "2y"},
		{name: "four years", daysAgo: 1460, want: "5y"},
		{name: "ten years", daysAgo: 3650, want: "max"},
		{name: "twenty years", daysAgo: 7300, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chartRange(now, now.AddDate(0, 0, -tt.daysAgo))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHistoricalPrices_FiltersRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/stock/AAPL/chart/1m", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("exactDate"))
		jsonHandler(dailyBars)(w, r)
	})
	client := newTestClient(t, mux)
	client.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }

	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	resp, err := client.HistoricalPrices(context.Background(), []string{"aapl"}, start, end, false)
	require.NoError(t, err)

	res := resp.Result()
	require.Equal(t, 3, res.Len())
	assert.Equal(t, "2024-03-01", res.Records[0].String("date"))
	assert.Equal(t, "2024-03-05", res.Records[2].String("date"))
	assert.Len(t, res.Times, 3)
}

func TestHistoricalPrices_CloseOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/stock/AAPL/chart/1m", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("chartCloseOnly"))
		jsonHandler(dailyBars)(w, r)
	})
	client := newTestClient(t, mux)
	client.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	resp, err := client.HistoricalPrices(context.Background(), []string{"AAPL"}, start, end, true, WithFormat(core.FormatTabular))
	require.NoError(t, err)

	table := resp.Table()
	assert.Equal(t, []string{"date", "close", "volume"}, table.Columns)
	assert.Equal(t, []any{float64(12), float64(13), float64(14)}, table.Column("close"))
}

func TestHistoricalPrices_SingleDay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/stock/AAPL/chart/1m", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "20240304", q.Get("exactDate"))
		assert.Equal(t, "true", q.Get("chartByDay"))
		jsonHandler(`[{"date":"2024-03-04","close":12}]`)(w, r)
	})
	client := newTestClient(t, mux)
	client.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }

	resp, err := client.HistoricalPrices(context.Background(), []string{"AAPL"},
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), time.Time{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Result().Len())
}

func TestHistoricalPrices_MultiSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/stock/AAPL/chart/1m", jsonHandler(dailyBars))
	mux.HandleFunc("/stable/stock/MSFT/chart/1m", jsonHandler(dailyBars))
	client := newTestClient(t, mux)
	client.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	resp, err := client.HistoricalPrices(context.Background(), []string{"AAPL", "MSFT"}, start, end, true, WithFormat(core.FormatTabular))
	require.NoError(t, err)
	require.True(t, resp.IsBatch())

	for _, sym := range []string{"AAPL", "MSFT"} {
		res, ok := resp.Batch.Get(sym)
		require.True(t, ok, sym)
		assert.Equal(t, 2, res.Len())
	}
	assert.Equal(t, 4, resp.Table().Len())
	assert.Equal(t, []any{"AAPL", "AAPL", "MSFT", "MSFT"}, resp.Table().Column("symbol"))
}

func TestHistoricalPrices_Validation(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	client.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := client.HistoricalPrices(ctx, []string{"AAPL"},
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false)
	assert.True(t, core.IsValidationError(err))

	_, err = client.HistoricalPrices(ctx, []string{"AAPL"}, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}, false)
	assert.True(t, core.IsValidationError(err))

	_, err = client.HistoricalPrices(ctx, nil, time.Time{}, time.Time{}, false)
	assert.True(t, core.IsValidationError(err))
}

func TestIntraday(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stable/stock/AAPL/intraday-prices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20240304", r.URL.Query().Get("exactDate"))
		jsonHandler(`[
			{"date":"2024-03-04","minute":"09:30","close":170.1},
			{"date":"2024-03-04","minute":"09:31","close":170.4}
		]`)(w, r)
	})
	client := newTestClient(t, mux)

	resp, err := client.Intraday(context.Background(), "AAPL", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	res := resp.Result()
	require.Len(t, res.Times, 2)
	assert.Equal(t, time.Minute, res.Times[1].Sub(res.Times[0]))
}
