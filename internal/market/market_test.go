package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridCandles(tf Timeframe, start int64, n int, base float64) []Candle {
	step := tf.durationMillis()
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		open := start + int64(i)*step
		price := base + float64(i)
		out = append(out, Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    100,
			Trades:    10,
		})
	}
	return out
}

func TestValidateSeries(t *testing.T) {
	tf := supportedTimeframes["1h"]
	ok := gridCandles(tf, 1_700_000_000_000, 5, 100)
	require.NoError(t, ValidateSeries(ok))

	require.ErrorIs(t, ValidateSeries(nil), ErrEmptySeries)

	dup := gridCandles(tf, 1_700_000_000_000, 3, 100)
	dup[2].CloseTime = dup[1].CloseTime
	require.ErrorIs(t, ValidateSeries(dup), ErrSeriesOrder)

	neg := gridCandles(tf, 1_700_000_000_000, 3, 100)
	neg[1].Low = -1
	require.ErrorIs(t, ValidateSeries(neg), ErrNegativeValue)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)

	_, err = ParseTimeframe("7m")
	require.Error(t, err)
}

func TestAlignRangeAndExpected(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.durationMillis()

	start, end := tf.AlignRange(step+123, 4*step+999)
	assert.Equal(t, step, start)
	assert.Equal(t, 4*step, end)
	assert.Equal(t, int64(4), tf.ExpectedCandles(start, end))

	// 反序输入交换
	start, end = tf.AlignRange(4*step, step)
	assert.Equal(t, step, start)
	assert.Equal(t, 4*step, end)

	assert.Equal(t, int64(0), tf.ExpectedCandles(10, 5))
}

func TestStoreInsertAndRead(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tf, _ := ParseTimeframe("1h")
	candles := gridCandles(tf, 1_700_000_000_000, 10, 50000)

	n, err := store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	manifest, err := store.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", manifest.Symbol)
	assert.Equal(t, int64(10), manifest.Rows)
	assert.Equal(t, candles[0].OpenTime, manifest.MinTime)
	assert.Equal(t, candles[9].OpenTime, manifest.MaxTime)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", candles[2].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, candles[2].OpenTime, got[0].OpenTime)

	all, err := store.ListAllCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Len(t, all, 10)

	// 覆盖写入不产生重复行
	candles[3].Close = 99999
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles[3:4])
	require.NoError(t, err)
	all, err = store.ListAllCandles(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, 99999.0, all[3].Close)
}

func TestStoreCheckIntegrity(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tf, _ := ParseTimeframe("1h")
	step := tf.durationMillis()
	base := int64(1_700_000_000_000)
	base = alignDown(base, step)
	candles := gridCandles(tf, base, 10, 100)

	// 挖掉中间两根，制造一个缺口
	partial := append(append([]Candle{}, candles[:4]...), candles[6:]...)
	_, err = store.InsertCandles(ctx, "ETHUSDT", "1h", partial)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1h", tf, base, base+9*step)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(8), report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, base+4*step, report.Gaps[0].From)
	assert.Equal(t, base+5*step, report.Gaps[0].To)
	assert.False(t, report.Complete())
}

type stubSource struct {
	tf    Timeframe
	calls int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, req FetchRequest) ([]Candle, error) {
	s.calls++
	n := req.Limit
	if n <= 0 {
		n = 10
	}
	step := s.tf.durationMillis()
	if req.End > 0 {
		span := int((req.End-req.Start)/step) + 1
		if span < n {
			n = span
		}
	}
	return gridCandles(s.tf, req.Start, n, 1000), nil
}

func waitJob(t *testing.T, svc *FetchService, id string) FetchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := svc.JobSnapshot(id)
		require.True(t, ok)
		switch job.Status {
		case JobStatusDone, JobStatusPartial, JobStatusFailed:
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return FetchJob{}
}

func TestFetchServiceFillsGaps(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, _ := ParseTimeframe("1h")
	src := &stubSource{tf: tf}
	svc, err := NewFetchService(FetchServiceConfig{
		Store:           store,
		Sources:         map[string]CandleSource{"stub": src},
		DefaultExchange: "stub",
		RateLimitPerMin: 60000,
		MaxBatch:        4,
		MaxConcurrent:   1,
	})
	require.NoError(t, err)

	step := tf.durationMillis()
	base := alignDown(1_700_000_000_000, step)
	job, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 9*step,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), job.Total)

	final := waitJob(t, svc, job.ID)
	assert.Equal(t, JobStatusDone, final.Status)
	assert.Empty(t, final.Missing)
	assert.GreaterOrEqual(t, src.calls, 2)

	all, err := svc.AllCandles(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Len(t, all, 10)

	// 已完整的区间不再触发远端拉取
	before := src.calls
	job2, err := svc.SubmitFetch(FetchParams{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base,
		End:       base + 9*step,
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job2.Status)
	assert.Equal(t, before, src.calls)
}

func TestSubmitFetchRejectsBadParams(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, _ := ParseTimeframe("1h")
	svc, err := NewFetchService(FetchServiceConfig{
		Store:   store,
		Sources: map[string]CandleSource{"stub": &stubSource{tf: tf}},
	})
	require.NoError(t, err)

	_, err = svc.SubmitFetch(FetchParams{Timeframe: "1h", Start: 1, End: 2})
	require.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "9h", Start: 1, End: 2})
	require.Error(t, err)

	_, err = svc.SubmitFetch(FetchParams{Symbol: "BTCUSDT", Timeframe: "1h", Exchange: "nope", Start: 1, End: tf.durationMillis() * 2})
	require.Error(t, err)
}
