package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/returnlab/internal/config"
	"github.com/aristath/returnlab/internal/modules/backtest"
	"github.com/aristath/returnlab/internal/modules/results"
)

type recordingSaver struct {
	results []*backtest.Result
	metas   []results.RunMeta
}

func (s *recordingSaver) SaveRun(_ context.Context, res *backtest.Result, meta results.RunMeta) (string, error) {
	s.results = append(s.results, res)
	s.metas = append(s.metas, meta)
	return fmt.Sprintf("run-%d", len(s.results)), nil
}

func monthEnd(i int) string {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
	return start.AddDate(0, 1, -1).Format("2006-01-02")
}

func writeFile(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

// writeInputs creates 36 months of prices for two permnos (one with a
// duplicated month and negative price encoding) and matching ratios, plus a
// gapped gvkey without prices.
func writeInputs(t *testing.T, dir string) (prices, ratios string) {
	t.Helper()

	priceLines := []string{"PERMNO,NCUSIP,date,PRC"}
	ratioLines := []string{"gvkey,permno,public_date,bm,roa"}
	for i := 0; i < 36; i++ {
		priceLines = append(priceLines,
			fmt.Sprintf("10001,A1,%s,%g", monthEnd(i), 10+0.5*float64(i)+math.Sin(float64(i))),
			fmt.Sprintf("10002,B2,%s,%g", monthEnd(i), -(20+0.25*float64(i)+math.Cos(float64(i)))),
		)
		ratioLines = append(ratioLines,
			fmt.Sprintf("1001,10001,%s,%g,%g", monthEnd(i), 1+0.02*float64(i), 0.05*float64(i%7)),
			fmt.Sprintf("1002,10002,%s,%g,%g", monthEnd(i), 1.5+0.01*float64(i), 0.03*float64(i%5)),
		)
	}
	priceLines = append(priceLines, fmt.Sprintf("10001,A1,%s,99", monthEnd(2)))
	for _, i := range []int{0, 1, 3, 4, 5} {
		ratioLines = append(ratioLines, fmt.Sprintf("1003,10003,%s,2,0.1", monthEnd(i)))
	}

	prices = filepath.Join(dir, "prices.csv")
	ratios = filepath.Join(dir, "ratios.csv")
	writeFile(t, prices, priceLines)
	writeFile(t, ratios, ratioLines)
	return prices, ratios
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	prices, ratios := writeInputs(t, dir)

	return &config.Config{
		DataDir:               dir,
		OutputDir:             filepath.Join(dir, "output"),
		PricesFile:            prices,
		RatiosFile:            ratios,
		TargetHorizons:        []int{1},
		BacktestHorizons:      []int{1},
		BacktestTarget:        "growth",
		LookbackYears:         []int{1},
		Models:                []string{"linear"},
		Features:              []string{"bm", "roa"},
		MinConsecutiveMissing: 1,
		ValidationSplit:       0.1,
		Seed:                  42,
		Workers:               2,
		ForestTrees:           5,
		MLPHidden:             10,
		MLPEpochs:             50,
		MLPBatch:              512,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestPipeline_Run(t *testing.T) {
	cfg := testConfig(t)
	saver := &recordingSaver{}
	p := New(cfg, saver, zerolog.New(nil).Level(zerolog.Disabled))

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Cached)
	assert.Equal(t, 1, report.Prepare.PriceDuplicates)
	assert.Equal(t, 1, report.Prepare.RatioGapped)
	assert.Zero(t, report.Prepare.PriceGapped)
	assert.Equal(t, 72, report.Prepare.Join.Joined)

	// 35 growth rows per permno, minus the last month, leaves Jan 2000 to
	// Oct 2002; one-year lookback predicts Jan 2001 to Oct 2002.
	require.Len(t, report.Runs, 1)
	run := report.Runs[0]
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "linear", run.Model)
	assert.Equal(t, "growth_1m", run.Target)
	assert.Equal(t, 22, run.Windows)
	assert.Zero(t, run.Failed)
	assert.Equal(t, 44, run.Predictions)
	assert.False(t, math.IsNaN(run.RMSE))
	assert.False(t, math.IsNaN(run.MAE))

	require.Len(t, saver.metas, 1)
	assert.Equal(t, 1, saver.metas[0].HorizonMonths)
	assert.Equal(t, run.OutputFile, saver.metas[0].OutputFile)

	lines := readLines(t, run.OutputFile)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "LR_1M_1y_predictions_vs_true_val_adjust.csv"), run.OutputFile)
	assert.Equal(t, "permno,ncusip,Date,True Values,Predicted Values,Window Start,Window End", lines[0])
	assert.Len(t, lines, 45)
	assert.True(t, strings.HasPrefix(lines[1], "10001,A1,2001-01-01,"))
	assert.True(t, strings.HasSuffix(lines[1], ",2000-01-02,2000-12-31"))

	for _, name := range []string{
		"price_duplicate.csv",
		"non_continuous_data_prices.csv",
		"non_continuous_date_ratios.csv",
		"merged_data_final.csv",
		"final_result_1m.csv",
		"final_result_1m_std.csv",
		"processed_result_1m_non_continuous.csv",
	} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, name))
	}

	assert.Len(t, readLines(t, filepath.Join(cfg.OutputDir, "price_duplicate.csv")), 2)
	assert.Contains(t, readLines(t, filepath.Join(cfg.OutputDir, "non_continuous_date_ratios.csv")), "1003,2000-03-01,missing")
	assert.Len(t, readLines(t, filepath.Join(cfg.OutputDir, "final_result_1m.csv")), 69)
}

func TestPipeline_RunUsesSnapshots(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	first, err := New(cfg, nil, log).Run(context.Background())
	require.NoError(t, err)
	second, err := New(cfg, nil, log).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	require.Len(t, second.Runs, 1)
	assert.Equal(t, first.Runs[0].Windows, second.Runs[0].Windows)
	assert.InDelta(t, first.Runs[0].RMSE, second.Runs[0].RMSE, 1e-12)
	assert.Empty(t, second.Runs[0].RunID)

	// A settings change that alters the panels invalidates the snapshots.
	cfg.MinConsecutiveMissing = 2
	third, err := New(cfg, nil, log).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestPipeline_SkipsBacktestOnMissingFeature(t *testing.T) {
	cfg := testConfig(t)
	cfg.Features = []string{"bm", "not_a_ratio"}

	report, err := New(cfg, nil, zerolog.New(nil).Level(zerolog.Disabled)).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Runs)
	assert.Equal(t, []string{"linear/growth_1m/1y"}, report.Skipped)
}

func TestPipeline_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, nil, zerolog.New(nil).Level(zerolog.Disabled)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_MissingInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.PricesFile = filepath.Join(cfg.DataDir, "absent.csv")

	_, err := New(cfg, nil, zerolog.New(nil).Level(zerolog.Disabled)).Run(context.Background())
	assert.Error(t, err)
}

func TestPipeline_RejectsPriceColumnInRatios(t *testing.T) {
	cfg := testConfig(t)
	lines := readLines(t, cfg.RatiosFile)
	lines[0] += ",prc"
	for i := 1; i < len(lines); i++ {
		lines[i] += ",1"
	}
	writeFile(t, cfg.RatiosFile, lines)

	_, err := New(cfg, nil, zerolog.New(nil).Level(zerolog.Disabled)).Run(context.Background())
	require.ErrorIs(t, err, ErrPriceColumn)
	assert.Contains(t, err.Error(), "ratios panel column prc collides with prices panel column prc")
}

func TestPredictionFileName(t *testing.T) {
	tests := []struct {
		model    string
		horizon  int
		years    int
		expected string
	}{
		{"forest", 12, 5, "RF_12M_5y_predictions_vs_true_val_adjust.csv"},
		{"mlp", 12, 4, "NN_12M_4y_predictions_vs_true_val_adjust.csv"},
		{"linear", 3, 4, "LR_3M_4y_predictions_vs_true_val_adjust.csv"},
		{"xgb", 1, 2, "XGB_1M_2y_predictions_vs_true_val_adjust.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, PredictionFileName(tt.model, tt.horizon, tt.years))
		})
	}
}
