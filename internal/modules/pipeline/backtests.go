package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/returnlab/internal/modules/backtest"
	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/regression"
	"github.com/aristath/returnlab/internal/modules/results"
	"github.com/aristath/returnlab/internal/modules/targets"
)

var modelPrefixes = map[string]string{
	"forest": "RF",
	"mlp":    "NN",
	"linear": "LR",
}

// PredictionFileName names the prediction export of one backtest,
// e.g. RF_12M_5y_predictions_vs_true_val_adjust.csv.
func PredictionFileName(model string, horizon, years int) string {
	prefix, ok := modelPrefixes[model]
	if !ok {
		prefix = strings.ToUpper(model)
	}
	return fmt.Sprintf("%s_%dM_%dy_predictions_vs_true_val_adjust.csv", prefix, horizon, years)
}

func (p *Pipeline) modelParams() regression.Params {
	params := regression.DefaultParams()
	params.ForestTrees = p.cfg.ForestTrees
	params.MLPHidden = p.cfg.MLPHidden
	params.MLPEpochs = p.cfg.MLPEpochs
	params.MLPBatch = p.cfg.MLPBatch
	return params
}

// runBacktests runs every (horizon, lookback, model) combination.
func (p *Pipeline) runBacktests(ctx context.Context, stores map[string]*panel.Store, report *Report) error {
	params := p.modelParams()

	for _, h := range p.cfg.BacktestHorizons {
		target := targets.TargetName(targets.Kind(p.cfg.BacktestTarget), h)
		store, ok := stores[target]
		if !ok {
			return fmt.Errorf("no targeted panel for %s", target)
		}

		for _, years := range p.cfg.LookbackYears {
			for _, model := range p.cfg.Models {
				factory, err := regression.New(model, params)
				if err != nil {
					return err
				}

				summary, err := p.backtest(ctx, store, factory, model, target, h, years)
				if errors.Is(err, panel.ErrMissingColumn) {
					label := fmt.Sprintf("%s/%s/%dy", model, target, years)
					p.log.Error().Err(err).Str("backtest", label).Msg("Skipping backtest, panel lacks a configured column")
					report.Skipped = append(report.Skipped, label)
					continue
				}
				if err != nil {
					return err
				}
				report.Runs = append(report.Runs, summary)
			}
		}
	}
	return nil
}

func (p *Pipeline) backtest(
	ctx context.Context,
	store *panel.Store,
	factory regression.Factory,
	model, target string,
	horizon, years int,
) (RunSummary, error) {
	started := time.Now()
	res, err := p.backtester.Run(ctx, store, factory, backtest.Config{
		Target:             target,
		Features:           p.cfg.Features,
		LookbackYears:      years,
		ValidationFraction: p.cfg.ValidationSplit,
		Seed:               p.cfg.Seed,
		Workers:            p.cfg.Workers,
	})
	if err != nil {
		return RunSummary{}, err
	}
	finished := time.Now()

	summary := RunSummary{
		Model:         res.Model,
		Target:        target,
		HorizonMonths: horizon,
		LookbackYears: years,
		Windows:       len(res.Windows),
		Failed:        len(res.Failures),
		Predictions:   res.Predictions,
		RMSE:          res.RMSE,
		MAE:           res.MAE,
	}

	if res.Predictions > 0 {
		summary.OutputFile = p.output(PredictionFileName(model, horizon, years))
		if err := writePredictions(summary.OutputFile, store, res); err != nil {
			return RunSummary{}, err
		}
	} else {
		p.log.Warn().Str("model", model).Str("target", target).Int("lookback_years", years).Msg("Backtest produced no predictions")
	}

	if p.runs != nil {
		id, err := p.runs.SaveRun(ctx, res, results.RunMeta{
			HorizonMonths: horizon,
			StartedAt:     started,
			FinishedAt:    finished,
			OutputFile:    summary.OutputFile,
		})
		if err != nil {
			return RunSummary{}, fmt.Errorf("failed to save run: %w", err)
		}
		summary.RunID = id
	}
	return summary, nil
}

// writePredictions exports every window's predictions next to the realized values.
func writePredictions(path string, store *panel.Store, res *backtest.Result) error {
	header := []string{
		store.EntityColumn, store.SecondaryColumn, "Date",
		"True Values", "Predicted Values", "Window Start", "Window End",
	}

	rows := make([][]string, 0, res.Predictions)
	for _, w := range res.Windows {
		date := panel.FormatDate(w.PredictionDate)
		start, end := panel.FormatDate(w.WindowStart), panel.FormatDate(w.WindowEnd)
		for _, pr := range w.Predictions {
			rows = append(rows, []string{
				pr.EntityID, pr.SecondaryID, date,
				panel.FormatFloat(pr.Truth), panel.FormatFloat(pr.Predicted),
				start, end,
			})
		}
	}
	return panel.WriteTable(path, header, rows)
}
