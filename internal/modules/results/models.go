// Package results persists backtest runs and serves them back for review.
package results

import (
	"time"
)

// Run is the summary row of one backtest.
type Run struct {
	ID               string    `json:"id"`
	Model            string    `json:"model"`
	Target           string    `json:"target"`
	HorizonMonths    int       `json:"horizon_months"`
	LookbackYears    int       `json:"lookback_years"`
	Features         []string  `json:"features"`
	Seed             int64     `json:"seed"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Scheduled        int       `json:"scheduled"`
	Windows          int       `json:"windows"`
	Skipped          int       `json:"skipped"`
	Failed           int       `json:"failed"`
	DroppedRows      int       `json:"dropped_rows"`
	Predictions      int       `json:"predictions"`
	RMSE             *float64  `json:"rmse"`
	MAE              *float64  `json:"mae"`
	FitSeconds       float64   `json:"fit_seconds"`
	MemoryDeltaBytes int64     `json:"memory_delta_bytes"`
	OutputFile       string    `json:"output_file,omitempty"`
}

// Window is one trained or failed window of a run.
type Window struct {
	PredictionDate string   `json:"prediction_date"`
	WindowStart    string   `json:"window_start"`
	WindowEnd      string   `json:"window_end"`
	TrainRows      int      `json:"train_rows"`
	FitRows        int      `json:"fit_rows"`
	ValidationRows int      `json:"validation_rows"`
	ValidationRMSE *float64 `json:"validation_rmse"`
	ValidationMAE  *float64 `json:"validation_mae"`
	FitSeconds     float64  `json:"fit_seconds"`
	Predictions    int      `json:"predictions"`
	Error          string   `json:"error,omitempty"`
}

// PredictionRow is one entity's prediction in a run.
type PredictionRow struct {
	PredictionDate string  `json:"prediction_date"`
	EntityID       string  `json:"entity_id"`
	SecondaryID    string  `json:"secondary_id"`
	Truth          float64 `json:"truth"`
	Predicted      float64 `json:"predicted"`
}

// RunMeta carries the run context the backtest result does not hold.
type RunMeta struct {
	HorizonMonths int
	StartedAt     time.Time
	FinishedAt    time.Time
	OutputFile    string
}
