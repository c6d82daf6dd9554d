package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"backlab/internal/backtest"
	"backlab/internal/market"
	"backlab/internal/optimize"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"
	colorEntry         = "#fbbf24"
	colorExit          = "#f472b6"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320
	topKHeightPx   = 320
)

// Input 是渲染一份优化报告所需的全部数据。
type Input struct {
	Symbol    string
	Timeframe string
	Strategy  string
	Result    optimize.SearchResult
	Artifact  backtest.Artifact
}

// RenderHTML 生成包含 K 线+交易标记、权益曲线与 Top-K 对比的报告页面。
func RenderHTML(input Input) ([]byte, error) {
	if len(input.Artifact.PriceData) == 0 {
		return nil, fmt.Errorf("report: price data is empty")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Artifact.PriceData)
	page.AddCharts(
		buildKlineChart(input, xAxis),
		buildEquityChart(input.Artifact),
		buildTopKChart(input.Result),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteHTML 渲染并落盘，返回文件路径。
func WriteHTML(input Input, dir, runID string) (string, error) {
	html, err := RenderHTML(input)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.html", strings.ToLower(input.Symbol), runID))
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func buildKlineChart(input Input, xAxis []string) *charts.Kline {
	candles := input.Artifact.PriceData
	metrics := input.Artifact.PerformanceMetrics

	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s | %s", strings.ToUpper(input.Symbol), input.Timeframe, input.Strategy),
			Subtitle: fmt.Sprintf("trades=%d win_rate=%.1f%% total_return=%.2f%% max_dd=%.2f%% sharpe=%.2f",
				metrics.TotalTrades, metrics.WinRate*100, metrics.TotalReturn*100, metrics.MaxDrawdown*100, metrics.SharpeRatio),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	klineData := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)

	entries, exits := tradeMarkers(candles, input.Artifact.TradeHistory)
	scatter := charts.NewScatter()
	scatter.SetXAxis(xAxis)
	scatter.AddSeries("Entry", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorEntry}))
	scatter.AddSeries("Exit", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorExit}))
	kline.Overlap(scatter)
	return kline
}

// tradeMarkers 把交易的进出场时刻映射到 K 线横轴索引。
func tradeMarkers(candles []market.Candle, trades []backtest.Trade) (entries, exits []opts.ScatterData) {
	index := make(map[int64]int, len(candles))
	for i, c := range candles {
		index[c.CloseTime] = i
	}
	entries = make([]opts.ScatterData, len(candles))
	exits = make([]opts.ScatterData, len(candles))
	for i := range candles {
		entries[i] = opts.ScatterData{Value: nil}
		exits[i] = opts.ScatterData{Value: nil}
	}
	for _, t := range trades {
		if i, ok := index[t.EntryTime]; ok {
			entries[i] = opts.ScatterData{Value: round(t.EntryPrice, 4), Symbol: "triangle", SymbolSize: 12}
		}
		if i, ok := index[t.ExitTime]; ok {
			exits[i] = opts.ScatterData{Value: round(t.ExitPrice, 4), Symbol: "diamond", SymbolSize: 12}
		}
	}
	return entries, exits
}

func buildEquityChart(artifact backtest.Artifact) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Equity Curve",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	x := make([]string, len(artifact.EquityCurve))
	data := make([]opts.LineData, len(artifact.EquityCurve))
	for i, p := range artifact.EquityCurve {
		x[i] = time.UnixMilli(p.Time).UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: round(p.Value, 6)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildTopKChart(result optimize.SearchResult) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", topKHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Top Parameter Sets (total return)",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	labels := make([]string, len(result.TopTrials))
	data := make([]opts.BarData, len(result.TopTrials))
	for i, t := range result.TopTrials {
		labels[i] = paramsLabel(t.Params) + " (" + t.Stats.WinRate + ")"
		color := colorBull
		if t.Value < 0 {
			color = colorBear
		}
		data[i] = opts.BarData{
			Value:     round(t.Value*100, 4),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(labels)
	bar.AddSeries("TotalReturn%", data)
	return bar
}

func paramsLabel(params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, params[name]))
	}
	return strings.Join(parts, " ")
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测无头浏览器是否可用，仅在导出 PNG 时需要。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// WritePNG 渲染报告并用无头浏览器导出 PNG，返回文件路径。
func WritePNG(ctx context.Context, input Input, dir, runID string) (string, error) {
	html, err := RenderHTML(input)
	if err != nil {
		return "", err
	}
	png, err := RenderPNG(ctx, html)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", strings.ToLower(input.Symbol), runID))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RenderPNG 用无头浏览器把报告 HTML 截成 PNG。
func RenderPNG(ctx context.Context, html []byte) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	height := klineHeightPx + equityHeightPx + topKHeightPx
	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(chartWidthPx), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
