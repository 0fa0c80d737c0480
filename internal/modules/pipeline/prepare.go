package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/preprocessing"
	"github.com/aristath/returnlab/internal/utils"
)

// Canonical column names of the two input panels.
const (
	columnPermno = "permno"
	columnNcusip = "ncusip"
	columnGvkey  = "gvkey"
	columnPrice  = "prc"
)

// ErrPriceColumn is returned when the price column is absent from the price
// panel or also present in the ratio panel, where the join would rename it.
var ErrPriceColumn = errors.New("ambiguous or missing price column")

var (
	pricesSchema = panel.Schema{Name: "prices", Entity: columnPermno, Secondary: columnNcusip}
	ratiosSchema = panel.Schema{Name: "ratios", Entity: columnPermno, Secondary: columnGvkey}
)

// PrepareStats counts what each preparation step kept and removed.
type PrepareStats struct {
	Prices          panel.LoadStats
	Ratios          panel.LoadStats
	PriceDuplicates int
	RatioDuplicates int
	PriceGapped     int // gapped permno timelines
	RatioGapped     int // gapped gvkey timelines
	Join            preprocessing.JoinStats
}

// Prepare loads both panels, removes duplicates and gapped timelines, and
// joins them on (permno, month). Audit files are written along the way.
func (p *Pipeline) Prepare(ctx context.Context) (*panel.Store, PrepareStats, error) {
	var stats PrepareStats
	timer := utils.NewTimer("prepare", p.log)

	prices, loadStats, err := p.loader.LoadFile(p.cfg.PricesFile, pricesSchema)
	if err != nil {
		return nil, stats, err
	}
	stats.Prices = loadStats

	ratios, loadStats, err := p.loader.LoadFile(p.cfg.RatiosFile, ratiosSchema)
	if err != nil {
		return nil, stats, err
	}
	stats.Ratios = loadStats

	if prices.FeatureIndex(columnPrice) < 0 {
		return nil, stats, fmt.Errorf("%w: %s panel has no numeric %s column", ErrPriceColumn, pricesSchema.Name, columnPrice)
	}
	if ratios.FeatureIndex(columnPrice) >= 0 {
		return nil, stats, fmt.Errorf("%w: %s panel column %s collides with %s panel column %s",
			ErrPriceColumn, ratiosSchema.Name, columnPrice, pricesSchema.Name, columnPrice)
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("research run cancelled: %w", err)
	}

	prices = prices.Sorted(panel.ByEntity)
	ratios = ratios.Sorted(panel.BySecondary)

	prices, stats.PriceDuplicates, err = p.dedup(prices, "price_duplicate.csv")
	if err != nil {
		return nil, stats, err
	}
	if p.cfg.DedupRatios {
		ratios, stats.RatioDuplicates, err = p.dedup(ratios, "data_duplicate.csv")
		if err != nil {
			return nil, stats, err
		}
	}

	ratios, stats.RatioGapped, err = p.continuous(ratios, "ratios", panel.BySecondary)
	if err != nil {
		return nil, stats, err
	}
	prices, stats.PriceGapped, err = p.continuous(prices, "prices", panel.ByEntity)
	if err != nil {
		return nil, stats, err
	}

	merged, joinStats, err := preprocessing.Join(prices, ratios)
	stats.Join = joinStats
	if errors.Is(err, preprocessing.ErrDuplicateJoinKey) && !p.cfg.DedupRatios {
		return nil, stats, fmt.Errorf("failed to join panels (DEDUP_RATIOS is off): %w", err)
	}
	if err != nil {
		return nil, stats, fmt.Errorf("failed to join panels: %w", err)
	}
	p.log.Info().
		Int("left_rows", joinStats.Left).
		Int("right_rows", joinStats.Right).
		Int("joined_rows", joinStats.Joined).
		Int("unmatched_price_rows", joinStats.Left-joinStats.Joined).
		Int("unmatched_ratio_rows", joinStats.Right-joinStats.Joined).
		Msg("Joined price and ratio panels")

	if err := panel.WriteStore(p.output("merged_data_final.csv"), merged); err != nil {
		return nil, stats, err
	}

	timer.StopWithFields(map[string]interface{}{"rows": merged.Len()})
	return merged, stats, nil
}

// dedup keeps the first row per (permno, month) and writes the discarded rows.
func (p *Pipeline) dedup(s *panel.Store, auditFile string) (*panel.Store, int, error) {
	before := s.Len()
	clean, discarded := preprocessing.Deduplicate(s, preprocessing.ScopeEntity)

	if err := panel.WriteStore(p.output(auditFile), discarded); err != nil {
		return nil, 0, err
	}
	p.log.Info().
		Int("before", before).
		Int("after", clean.Len()).
		Int("removed", discarded.Len()).
		Str("audit_file", auditFile).
		Msg("Removed duplicate rows")
	return clean, discarded.Len(), nil
}

// continuous splits off gapped timelines and writes them with their missing months.
func (p *Pipeline) continuous(s *panel.Store, name string, key panel.GroupKey) (*panel.Store, int, error) {
	report := preprocessing.ValidateContinuity(s, key, p.cfg.MinConsecutiveMissing)

	if err := panel.WriteStore(p.output(fmt.Sprintf("non_continuous_data_%s.csv", name)), report.Gapped); err != nil {
		return nil, 0, err
	}
	if err := writeMissingMonths(p.output(fmt.Sprintf("non_continuous_date_%s.csv", name)), key, report); err != nil {
		return nil, 0, err
	}

	p.log.Info().
		Str("panel", name).
		Str("group_by", key.String()).
		Int("continuous_rows", report.Continuous.Len()).
		Int("gapped_rows", report.Gapped.Len()).
		Int("continuous_groups", report.ContinuousGroups).
		Int("gapped_groups", report.GappedGroups).
		Int("repeated_months", len(report.Repeated)).
		Msg("Checked monthly continuity")
	return report.Continuous, report.GappedGroups, nil
}

func writeMissingMonths(path string, key panel.GroupKey, report preprocessing.ContinuityReport) error {
	rows := make([][]string, 0, len(report.Missing)+len(report.Repeated))
	for _, m := range report.Missing {
		rows = append(rows, []string{m.Group, panel.FormatDate(m.Month), "missing"})
	}
	for _, m := range report.Repeated {
		rows = append(rows, []string{m.Group, panel.FormatDate(m.Month), "repeated"})
	}
	return panel.WriteTable(path, []string{key.String(), "missing_date", "reason"}, rows)
}

func (p *Pipeline) output(name string) string {
	return filepath.Join(p.cfg.OutputDir, name)
}
