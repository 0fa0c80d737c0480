// Package backtest runs walk-forward training and evaluation of a regression
// model over a targeted monthly panel.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/returnlab/internal/modules/panel"
)

// ErrNoFeatures is returned when a backtest is configured without feature columns.
var ErrNoFeatures = errors.New("no feature columns configured")

// ErrDuplicateRows is returned when a panel holds two rows for the same
// (entity, secondary, month).
var ErrDuplicateRows = errors.New("duplicate panel rows")

// Config describes one backtest run.
type Config struct {
	Target             string
	Features           []string
	LookbackYears      int
	ValidationFraction float64
	Seed               int64
	Workers            int
}

// Prediction is one entity's predicted and realized target for a prediction month.
type Prediction struct {
	EntityID    string
	SecondaryID string
	Truth       float64
	Predicted   float64
}

// WindowResult is the outcome of one trained window. It is never modified
// after the backtest returns.
type WindowResult struct {
	WindowStart    time.Time
	WindowEnd      time.Time
	PredictionDate time.Time
	Predictions    []Prediction

	TrainRows      int
	FitRows        int
	ValidationRows int
	ValidationRMSE float64 // NaN without a validation subset
	ValidationMAE  float64
	FitDuration    time.Duration
}

// SpanMonths is the number of calendar months from the window's first month
// up to the prediction month.
func (w WindowResult) SpanMonths() int {
	return panel.MonthsBetween(panel.MonthStart(w.WindowStart), w.PredictionDate)
}

// WindowFailure records a window whose model could not be fitted or applied.
type WindowFailure struct {
	PredictionDate time.Time
	Err            error
}

func (f WindowFailure) Error() string {
	return fmt.Sprintf("window %s: %v", panel.FormatDate(f.PredictionDate), f.Err)
}

func (f WindowFailure) Unwrap() error {
	return f.Err
}

// Result aggregates every window of a run in prediction date order.
type Result struct {
	Model    string
	Config   Config
	Windows  []WindowResult
	Failures []WindowFailure

	Scheduled   int
	Skipped     int
	DroppedRows int

	Predictions  int
	RMSE         float64 // NaN when nothing was predicted
	MAE          float64
	TotalFitTime time.Duration
	MemoryDelta  int64 // bytes of system memory in use after the run minus before
}
