// Package pipeline wires ingestion, alignment, target construction and
// walk-forward backtesting into one research run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/returnlab/internal/config"
	"github.com/aristath/returnlab/internal/modules/backtest"
	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/results"
)

// RunSaver persists finished backtests.
type RunSaver interface {
	SaveRun(ctx context.Context, res *backtest.Result, meta results.RunMeta) (string, error)
}

// Pipeline runs the research stages against the configured input files.
type Pipeline struct {
	cfg        *config.Config
	loader     *panel.Loader
	backtester *backtest.Backtester
	runs       RunSaver
	log        zerolog.Logger
}

// New creates a pipeline. runs may be nil, in which case results are only
// written to the output directory.
func New(cfg *config.Config, runs RunSaver, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		loader:     panel.NewLoader(panel.DefaultAliases, log),
		backtester: backtest.New(log),
		runs:       runs,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Report summarizes one pipeline run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Cached     bool // targeted panels came from snapshots
	Prepare    PrepareStats
	Runs       []RunSummary
	Skipped    []string // backtests skipped for a schema mismatch
}

// RunSummary describes one (model, horizon, lookback) backtest.
type RunSummary struct {
	RunID         string
	Model         string
	Target        string
	HorizonMonths int
	LookbackYears int
	Windows       int
	Failed        int
	Predictions   int
	RMSE          float64
	MAE           float64
	OutputFile    string
}

// Run executes every stage. Cancelling ctx stops the run between stages and
// between backtest windows.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}
	p.log.Info().
		Str("prices", p.cfg.PricesFile).
		Str("ratios", p.cfg.RatiosFile).
		Str("output", p.cfg.OutputDir).
		Msg("Starting research run")

	stores, err := p.targetPanels(ctx, report)
	if err != nil {
		return nil, err
	}
	if err := p.runBacktests(ctx, stores, report); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now()
	p.log.Info().
		Int("backtests", len(report.Runs)).
		Int("skipped", len(report.Skipped)).
		Bool("cached", report.Cached).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Research run completed")
	return report, nil
}

// targetPanels returns the backtest-ready panels, from snapshots when the
// inputs and settings are unchanged since they were written.
func (p *Pipeline) targetPanels(ctx context.Context, report *Report) (map[string]*panel.Store, error) {
	names := p.backtestTargets()

	key, err := p.fingerprint()
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to fingerprint inputs, snapshots disabled")
	} else if stores, ok := p.loadSnapshots(key, names); ok {
		report.Cached = true
		return stores, nil
	}

	merged, stats, err := p.Prepare(ctx)
	report.Prepare = stats
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research run cancelled: %w", err)
	}

	stores, err := p.BuildTargets(merged)
	if err != nil {
		return nil, err
	}
	if key != "" {
		p.saveSnapshots(key, names, stores)
	}
	return stores, nil
}
