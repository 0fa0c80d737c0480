// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/aristath/returnlab/internal/utils"
)

// DefaultFeatures are the financial ratio columns fed to the return models.
var DefaultFeatures = []string{
	"bm", "pe_exi", "pe_inc", "ptb", "gprof", "gpm",
	"npm", "opmad", "roa", "roe", "cfm", "cash_debt",
	"short_debt", "curr_debt", "de_ratio", "debt_at",
	"quick_ratio", "curr_ratio", "rect_turn", "at_turn", "rd_sale",
}

// Config holds application configuration
type Config struct {
	DataDir    string `validate:"required"` // Base directory for inputs (always absolute)
	OutputDir  string `validate:"required"` // Where audit, target and prediction files are written
	PricesFile string `validate:"required"` // Monthly security prices (permno, ncusip, date, prc)
	RatiosFile string `validate:"required"` // Monthly financial ratios (gvkey, permno, public_date, ...)
	ResultsDB  string `validate:"required"`

	TargetHorizons   []int    `validate:"required,min=1,dive,gt=0"`
	BacktestHorizons []int    `validate:"required,min=1,dive,gt=0"`
	BacktestTarget   string   `validate:"oneof=growth volatility"`
	LookbackYears    []int    `validate:"required,min=1,dive,gt=0"`
	Models           []string `validate:"required,min=1,dive,oneof=linear forest mlp"`
	Features         []string `validate:"required,min=1,dive,required"`

	MinConsecutiveMissing int     `validate:"gte=1"`
	ValidationSplit       float64 `validate:"gte=0,lt=1"`
	Seed                  int64
	Workers               int  `validate:"gte=1"`
	DedupRatios           bool // Off by default: only the price panel is deduplicated

	ForestTrees int `validate:"gte=1"`
	MLPHidden   int `validate:"gte=1"`
	MLPEpochs   int `validate:"gte=1"`
	MLPBatch    int `validate:"gte=1"`

	LogLevel   string `validate:"oneof=debug info warn error"`
	Port       int    `validate:"gt=0,lt=65536"`
	APIEnabled bool
	Schedule   string // Cron expression for scheduled reruns; empty runs the pipeline once
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RESEARCH_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	outputDir, err := filepath.Abs(getEnv("OUTPUT_DIR", filepath.Join(absDataDir, "output")))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory path: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		OutputDir:  outputDir,
		PricesFile: resolvePath(absDataDir, getEnv("PRICES_FILE", "CRSP_Stock_price_Monthly_final.csv")),
		RatiosFile: resolvePath(absDataDir, getEnv("RATIOS_FILE", "financial_ratio_all_IBES.csv")),
		ResultsDB:  resolvePath(absDataDir, getEnv("RESULTS_DB", "results.db")),

		TargetHorizons:   getEnvAsIntList("TARGET_HORIZONS", []int{1, 3, 6, 9, 12}),
		BacktestHorizons: getEnvAsIntList("BACKTEST_HORIZONS", []int{12}),
		BacktestTarget:   getEnv("BACKTEST_TARGET", "growth"),
		LookbackYears:    getEnvAsIntList("LOOKBACK_YEARS", []int{4, 5}),
		Models:           getEnvAsList("MODELS", []string{"forest"}),
		Features:         getEnvAsList("FEATURES", DefaultFeatures),

		MinConsecutiveMissing: getEnvAsInt("MIN_CONSECUTIVE_MISSING", 1),
		ValidationSplit:       getEnvAsFloat("VALIDATION_SPLIT", 0.1),
		Seed:                  int64(getEnvAsInt("SEED", 42)),
		Workers:               getEnvAsInt("WORKERS", runtime.NumCPU()),
		DedupRatios:           getEnvAsBool("DEDUP_RATIOS", false),

		ForestTrees: getEnvAsInt("FOREST_TREES", 5),
		MLPHidden:   getEnvAsInt("MLP_HIDDEN", 10),
		MLPEpochs:   getEnvAsInt("MLP_EPOCHS", 50),
		MLPBatch:    getEnvAsInt("MLP_BATCH", 512),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Port:       getEnvAsInt("PORT", 8001),
		APIEnabled: getEnvAsBool("API_ENABLED", false),
		Schedule:   getEnv("SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and that every backtest horizon has a built target.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	built := make(map[int]bool, len(c.TargetHorizons))
	for _, h := range c.TargetHorizons {
		built[h] = true
	}
	for _, h := range c.BacktestHorizons {
		if !built[h] {
			return fmt.Errorf("invalid configuration: backtest horizon %dm is not in TARGET_HORIZONS", h)
		}
	}

	return nil
}

// resolvePath keeps absolute paths and anchors relative ones at the data directory.
func resolvePath(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return utils.ParseCSV(value)
}

// getEnvAsIntList falls back to the default when any element fails to parse.
func getEnvAsIntList(key string, defaultValue []int) []int {
	parts := getEnvAsList(key, nil)
	if parts == nil {
		return defaultValue
	}

	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
