package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/returnlab/internal/database"
	"github.com/aristath/returnlab/internal/modules/backtest"
	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/utils"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Repository reads and writes runs in the results database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a results repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "results").Logger(),
	}
}

// SaveRun stores a backtest result with its windows and predictions in one
// transaction and returns the new run id.
func (r *Repository) SaveRun(ctx context.Context, res *backtest.Result, meta RunMeta) (string, error) {
	id := uuid.New().String()
	done := utils.MeasureDBQuery("save_run", r.log)
	var inserted int64

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (
				id, model, target, horizon_months, lookback_years, features, seed,
				started_at, finished_at, scheduled, windows, skipped, failed,
				dropped_rows, predictions, rmse, mae, fit_seconds, memory_delta_bytes, output_file
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, res.Model, res.Config.Target, meta.HorizonMonths, res.Config.LookbackYears,
			strings.Join(res.Config.Features, ","), res.Config.Seed,
			meta.StartedAt.UTC().Format(time.RFC3339), meta.FinishedAt.UTC().Format(time.RFC3339),
			res.Scheduled, len(res.Windows), res.Skipped, len(res.Failures),
			res.DroppedRows, res.Predictions, nullFloat(res.RMSE), nullFloat(res.MAE),
			res.TotalFitTime.Seconds(), res.MemoryDelta, meta.OutputFile,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		windowStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO windows (
				run_id, prediction_date, window_start, window_end, train_rows, fit_rows,
				validation_rows, validation_rmse, validation_mae, fit_seconds, predictions, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare window insert: %w", err)
		}
		defer windowStmt.Close()

		predStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO predictions (run_id, prediction_date, entity_id, secondary_id, truth, predicted)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare prediction insert: %w", err)
		}
		defer predStmt.Close()

		for _, w := range res.Windows {
			date := panel.FormatDate(w.PredictionDate)
			if _, err := windowStmt.ExecContext(ctx,
				id, date, panel.FormatDate(w.WindowStart), panel.FormatDate(w.WindowEnd),
				w.TrainRows, w.FitRows, w.ValidationRows,
				nullFloat(w.ValidationRMSE), nullFloat(w.ValidationMAE),
				w.FitDuration.Seconds(), len(w.Predictions), nil,
			); err != nil {
				return fmt.Errorf("failed to insert window %s: %w", date, err)
			}
			inserted++
			for _, p := range w.Predictions {
				if _, err := predStmt.ExecContext(ctx, id, date, p.EntityID, p.SecondaryID, p.Truth, p.Predicted); err != nil {
					return fmt.Errorf("failed to insert prediction for %s: %w", p.EntityID, err)
				}
				inserted++
			}
		}

		for _, f := range res.Failures {
			pred := f.PredictionDate
			if _, err := windowStmt.ExecContext(ctx,
				id, panel.FormatDate(pred),
				panel.FormatDate(pred.AddDate(-res.Config.LookbackYears, 0, 1)), panel.FormatDate(pred.AddDate(0, 0, -1)),
				0, 0, 0, nil, nil, 0, 0, f.Err.Error(),
			); err != nil {
				return fmt.Errorf("failed to insert failed window: %w", err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	done(inserted + 1)

	r.log.Info().
		Str("run_id", id).
		Str("model", res.Model).
		Int("windows", len(res.Windows)).
		Int("predictions", res.Predictions).
		Msg("Saved backtest run")
	return id, nil
}

const runColumns = `id, model, target, horizon_months, lookback_years, features, seed,
	started_at, finished_at, scheduled, windows, skipped, failed, dropped_rows,
	predictions, rmse, mae, fit_seconds, memory_delta_bytes, output_file`

// ListRuns returns the most recent runs first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, model LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// GetWindows returns a run's windows in prediction date order.
func (r *Repository) GetWindows(ctx context.Context, runID string) ([]Window, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT prediction_date, window_start, window_end, train_rows, fit_rows, validation_rows,
			validation_rmse, validation_mae, fit_seconds, predictions, error
		FROM windows WHERE run_id = ? ORDER BY prediction_date`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query windows: %w", err)
	}
	defer rows.Close()

	windows := make([]Window, 0)
	for rows.Next() {
		var w Window
		var rmse, mae sql.NullFloat64
		var errText sql.NullString
		if err := rows.Scan(&w.PredictionDate, &w.WindowStart, &w.WindowEnd, &w.TrainRows, &w.FitRows,
			&w.ValidationRows, &rmse, &mae, &w.FitSeconds, &w.Predictions, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}
		w.ValidationRMSE = floatPtr(rmse)
		w.ValidationMAE = floatPtr(mae)
		w.Error = errText.String
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// GetPredictions returns a run's predictions, optionally for one prediction date.
func (r *Repository) GetPredictions(ctx context.Context, runID, date string, limit int) ([]PredictionRow, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT prediction_date, entity_id, secondary_id, truth, predicted
		FROM predictions WHERE run_id = ?`
	args := []interface{}{runID}
	if date != "" {
		query += " AND prediction_date = ?"
		args = append(args, date)
	}
	query += " ORDER BY prediction_date, entity_id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	out := make([]PredictionRow, 0)
	for rows.Next() {
		var p PredictionRow
		if err := rows.Scan(&p.PredictionDate, &p.EntityID, &p.SecondaryID, &p.Truth, &p.Predicted); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var features, started, finished string
	var rmse, mae sql.NullFloat64
	var output sql.NullString

	err := s.Scan(&run.ID, &run.Model, &run.Target, &run.HorizonMonths, &run.LookbackYears,
		&features, &run.Seed, &started, &finished, &run.Scheduled, &run.Windows, &run.Skipped,
		&run.Failed, &run.DroppedRows, &run.Predictions, &rmse, &mae, &run.FitSeconds,
		&run.MemoryDeltaBytes, &output)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if features != "" {
		run.Features = strings.Split(features, ",")
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	run.RMSE = floatPtr(rmse)
	run.MAE = floatPtr(mae)
	run.OutputFile = output.String
	return &run, nil
}

// nullFloat stores NaN and infinities as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
