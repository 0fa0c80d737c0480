package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/regression"
)

// Backtester slides a training window one month at a time across a panel.
type Backtester struct {
	log        zerolog.Logger
	memoryUsed func() (uint64, error)
}

// New creates a backtester
func New(log zerolog.Logger) *Backtester {
	return &Backtester{
		log:        log.With().Str("component", "backtester").Logger(),
		memoryUsed: systemMemoryUsed,
	}
}

func systemMemoryUsed() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Used, nil
}

// window is one scheduled prediction month.
type window struct {
	index int
	start time.Time
	end   time.Time
	pred  time.Time
}

// outcome is the slot a worker fills for one window.
type outcome struct {
	result  *WindowResult
	failure *WindowFailure
	skipped bool
	dropped int
}

// columns holds resolved positions of the configured fields.
type columns struct {
	features []int
	target   int
}

// Schedule returns the prediction months of a panel spanning earliest..latest.
// The first prediction month lies lookbackYears after the earliest month.
func Schedule(earliest, latest time.Time, lookbackYears int) []time.Time {
	var out []time.Time
	for pred := earliest.AddDate(lookbackYears, 0, 0); !pred.After(latest); pred = pred.AddDate(0, 1, 0) {
		out = append(out, pred)
	}
	return out
}

// Run trains one model per window on the rows dated inside
// [pred - LookbackYears + 1 day, pred - 1 day] and predicts the rows dated
// exactly pred. Windows run concurrently on at most cfg.Workers goroutines;
// each worker creates its own model and scaler. Empty windows are skipped and
// failing fits are recorded as WindowFailures. Cancelling ctx stops
// dispatching new windows and returns ctx's error.
func (b *Backtester) Run(ctx context.Context, store *panel.Store, factory regression.Factory, cfg Config) (*Result, error) {
	cols, err := resolve(store, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.LookbackYears <= 0 {
		return nil, fmt.Errorf("invalid lookback of %d years", cfg.LookbackYears)
	}

	result := &Result{Model: factory().Name(), Config: cfg, RMSE: math.NaN(), MAE: math.NaN()}
	log := b.log.With().
		Str("model", result.Model).
		Str("target", cfg.Target).
		Int("lookback_years", cfg.LookbackYears).
		Logger()

	if err := checkUnique(store.Records); err != nil {
		return nil, err
	}

	dates := store.Dates()
	if len(dates) == 0 {
		log.Warn().Msg("Empty panel, nothing to backtest")
		return result, nil
	}

	sorted := make([]panel.Record, len(store.Records))
	copy(sorted, store.Records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var windows []window
	for i, pred := range Schedule(dates[0], dates[len(dates)-1], cfg.LookbackYears) {
		windows = append(windows, window{
			index: i,
			start: pred.AddDate(-cfg.LookbackYears, 0, 1),
			end:   pred.AddDate(0, 0, -1),
			pred:  pred,
		})
	}
	result.Scheduled = len(windows)
	if len(windows) == 0 {
		log.Info().
			Time("earliest", dates[0]).
			Time("latest", dates[len(dates)-1]).
			Msg("Panel span shorter than lookback, no windows scheduled")
		return result, nil
	}

	startMem, memErr := b.memoryUsed()
	if memErr != nil {
		log.Warn().Err(memErr).Msg("Failed to read system memory")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if len(windows) < workers {
		workers = len(windows)
	}

	jobs := make(chan window)
	slots := make([]outcome, len(windows))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				slots[w.index] = b.runWindow(log, sorted, cols, factory, cfg, w)
			}
		}()
	}

dispatch:
	for _, w := range windows {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- w:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("backtest cancelled: %w", err)
	}

	var truth, predicted []float64
	for _, o := range slots {
		result.DroppedRows += o.dropped
		switch {
		case o.skipped:
			result.Skipped++
		case o.failure != nil:
			result.Failures = append(result.Failures, *o.failure)
		case o.result != nil:
			result.Windows = append(result.Windows, *o.result)
			result.TotalFitTime += o.result.FitDuration
			for _, p := range o.result.Predictions {
				truth = append(truth, p.Truth)
				predicted = append(predicted, p.Predicted)
			}
		}
	}
	result.Predictions = len(truth)
	result.RMSE = regression.RMSE(truth, predicted)
	result.MAE = regression.MAE(truth, predicted)

	if endMem, err := b.memoryUsed(); err == nil && memErr == nil {
		result.MemoryDelta = int64(endMem) - int64(startMem)
	}

	log.Info().
		Int("scheduled", result.Scheduled).
		Int("windows", len(result.Windows)).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failures)).
		Int("dropped_rows", result.DroppedRows).
		Int("predictions", result.Predictions).
		Float64("rmse", result.RMSE).
		Float64("mae", result.MAE).
		Dur("fit_time", result.TotalFitTime).
		Int64("memory_delta_bytes", result.MemoryDelta).
		Msg("Backtest completed")

	return result, nil
}

// checkUnique rejects panels where one timeline has two rows in the same month.
func checkUnique(records []panel.Record) error {
	type key struct {
		entity, secondary string
		month             int
	}
	seen := make(map[key]struct{}, len(records))
	for _, r := range records {
		k := key{r.EntityID, r.SecondaryID, panel.MonthIndex(r.Date)}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s/%s at %s", ErrDuplicateRows, r.EntityID, r.SecondaryID, panel.FormatDate(r.Date))
		}
		seen[k] = struct{}{}
	}
	return nil
}

func resolve(store *panel.Store, cfg Config) (columns, error) {
	if len(cfg.Features) == 0 {
		return columns{}, ErrNoFeatures
	}
	cols := columns{target: store.TargetIndex(cfg.Target)}
	if cols.target < 0 {
		return columns{}, fmt.Errorf("%w: target %s", panel.ErrMissingColumn, cfg.Target)
	}
	for _, name := range cfg.Features {
		idx := store.FeatureIndex(name)
		if idx < 0 {
			return columns{}, fmt.Errorf("%w: feature %s", panel.ErrMissingColumn, name)
		}
		cols.features = append(cols.features, idx)
	}
	return cols, nil
}

func (b *Backtester) runWindow(
	log zerolog.Logger,
	sorted []panel.Record,
	cols columns,
	factory regression.Factory,
	cfg Config,
	w window,
) outcome {
	log = log.With().Str("prediction_date", panel.FormatDate(w.pred)).Logger()

	train := between(sorted, w.start, w.end)
	held := between(sorted, w.pred, w.pred)
	if len(train) == 0 || len(held) == 0 {
		log.Info().Int("train_rows", len(train)).Int("prediction_rows", len(held)).Msg("Window has no data, skipping")
		return outcome{skipped: true}
	}

	x, y, _ := matrix(train, cols)
	px, py, kept := matrix(held, cols)
	dropped := len(train) - len(x) + len(held) - len(px)
	if dropped > 0 {
		log.Debug().Int("dropped_rows", dropped).Msg("Dropped rows with missing values")
	}
	if len(x) == 0 || len(px) == 0 {
		log.Info().Int("train_rows", len(x)).Int("prediction_rows", len(px)).Msg("Window has no complete rows, skipping")
		return outcome{skipped: true, dropped: dropped}
	}

	fail := func(err error) outcome {
		f := WindowFailure{PredictionDate: w.pred, Err: err}
		log.Warn().Err(err).Msg("Window failed, continuing")
		return outcome{failure: &f, dropped: dropped}
	}

	fitIdx, valIdx := regression.Split(len(x), cfg.ValidationFraction, cfg.Seed)
	fx, fy := regression.Rows(x, y, fitIdx)
	vx, vy := regression.Rows(x, y, valIdx)

	fx, vx, px, err := standardize(fx, vx, px)
	if err != nil {
		return fail(err)
	}

	started := time.Now()
	fitted, err := factory().Fit(fx, fy, cfg.Seed)
	fitDuration := time.Since(started)
	if err != nil {
		return fail(fmt.Errorf("fit: %w", err))
	}

	res := &WindowResult{
		WindowStart:    w.start,
		WindowEnd:      w.end,
		PredictionDate: w.pred,
		TrainRows:      len(x),
		FitRows:        len(fx),
		ValidationRows: len(vx),
		ValidationRMSE: math.NaN(),
		ValidationMAE:  math.NaN(),
		FitDuration:    fitDuration,
	}

	if len(vx) > 0 {
		vp, err := fitted.Predict(vx)
		if err != nil {
			return fail(fmt.Errorf("validate: %w", err))
		}
		res.ValidationRMSE = regression.RMSE(vy, vp)
		res.ValidationMAE = regression.MAE(vy, vp)
	}

	pp, err := fitted.Predict(px)
	if err != nil {
		return fail(fmt.Errorf("predict: %w", err))
	}
	res.Predictions = make([]Prediction, len(pp))
	for i, r := range kept {
		res.Predictions[i] = Prediction{
			EntityID:    r.EntityID,
			SecondaryID: r.SecondaryID,
			Truth:       py[i],
			Predicted:   pp[i],
		}
	}

	log.Debug().
		Int("train_rows", res.TrainRows).
		Int("predictions", len(res.Predictions)).
		Float64("val_rmse", res.ValidationRMSE).
		Float64("val_mae", res.ValidationMAE).
		Dur("fit_time", fitDuration).
		Msg("Window completed")

	return outcome{result: res, dropped: dropped}
}

// standardize fits a scaler on the fit rows only and applies it to all three sets.
func standardize(fx, vx, px [][]float64) ([][]float64, [][]float64, [][]float64, error) {
	scaler, err := regression.FitScaler(fx)
	if err != nil {
		return nil, nil, nil, err
	}
	if fx, err = scaler.Transform(fx); err != nil {
		return nil, nil, nil, fmt.Errorf("scale fit rows: %w", err)
	}
	if vx, err = scaler.Transform(vx); err != nil {
		return nil, nil, nil, fmt.Errorf("scale validation rows: %w", err)
	}
	if px, err = scaler.Transform(px); err != nil {
		return nil, nil, nil, fmt.Errorf("scale prediction rows: %w", err)
	}
	return fx, vx, px, nil
}

// between returns the date-sorted records dated within [from, to].
func between(sorted []panel.Record, from, to time.Time) []panel.Record {
	lo := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Date.Before(from) })
	hi := sort.Search(len(sorted), func(i int) bool { return sorted[i].Date.After(to) })
	if lo >= hi {
		return nil
	}
	return sorted[lo:hi]
}

// matrix extracts feature rows and targets, skipping rows with any NaN or Inf.
func matrix(records []panel.Record, cols columns) ([][]float64, []float64, []panel.Record) {
	x := make([][]float64, 0, len(records))
	y := make([]float64, 0, len(records))
	kept := make([]panel.Record, 0, len(records))

rows:
	for _, r := range records {
		target := r.Targets[cols.target]
		if math.IsNaN(target) || math.IsInf(target, 0) {
			continue
		}
		row := make([]float64, len(cols.features))
		for j, c := range cols.features {
			v := r.Features[c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue rows
			}
			row[j] = v
		}
		x = append(x, row)
		y = append(y, target)
		kept = append(kept, r)
	}
	return x, y, kept
}
