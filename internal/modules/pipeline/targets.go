package pipeline

import (
	"fmt"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/preprocessing"
	"github.com/aristath/returnlab/internal/modules/targets"
	"github.com/aristath/returnlab/internal/utils"
)

// BuildTargets derives the per-horizon growth and volatility panels from the
// merged panel, keyed by target name.
//
// Growth panels are rechecked for continuity per (permno, ncusip) and lose
// their last H months; volatility panels are exported as built.
func (p *Pipeline) BuildTargets(merged *panel.Store) (map[string]*panel.Store, error) {
	timer := utils.NewTimer("build_targets", p.log)

	corrected, flipped, err := targets.CorrectPrice(merged, columnPrice)
	if err != nil {
		return nil, err
	}
	p.log.Info().Int("rows", flipped).Msg("Converted negative prices")

	out := make(map[string]*panel.Store, 2*len(p.cfg.TargetHorizons))

	growth, err := targets.Build(corrected, targets.Spec{
		Kind:       targets.KindGrowth,
		PriceField: columnPrice,
		Horizons:   p.cfg.TargetHorizons,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build growth targets: %w", err)
	}
	p.log.Info().Int("rows_in", corrected.Len()).Int("rows_out", growth.Len()).Msg("Built growth targets")

	for _, h := range p.cfg.TargetHorizons {
		name := targets.TargetName(targets.KindGrowth, h)
		single, err := targets.ForHorizon(growth, name)
		if err != nil {
			return nil, err
		}

		report := preprocessing.ValidateContinuity(single, panel.ByEntityAndSecondary, 1)
		if err := panel.WriteStore(p.output(fmt.Sprintf("processed_result_%dm_non_continuous.csv", h)), report.Gapped); err != nil {
			return nil, err
		}
		p.logMonthlyCounts(name, report.Continuous)

		trimmed := preprocessing.TrimTrailingMonths(report.Continuous, h)
		if err := panel.WriteStore(p.output(fmt.Sprintf("final_result_%dm.csv", h)), trimmed); err != nil {
			return nil, err
		}
		p.log.Info().
			Str("target", name).
			Int("rows", single.Len()).
			Int("gapped_groups", report.GappedGroups).
			Int("continuous_rows", report.Continuous.Len()).
			Int("trimmed_rows", report.Continuous.Len()-trimmed.Len()).
			Msg("Exported growth target")
		out[name] = trimmed
	}

	volatility, err := targets.Build(corrected, targets.Spec{
		Kind:       targets.KindVolatility,
		PriceField: columnPrice,
		Horizons:   p.cfg.TargetHorizons,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build volatility targets: %w", err)
	}
	p.log.Info().Int("rows_in", corrected.Len()).Int("rows_out", volatility.Len()).Msg("Built volatility targets")

	for _, h := range p.cfg.TargetHorizons {
		name := targets.TargetName(targets.KindVolatility, h)
		single, err := targets.ForHorizon(volatility, name)
		if err != nil {
			return nil, err
		}
		if err := panel.WriteStore(p.output(fmt.Sprintf("final_result_%dm_std.csv", h)), single); err != nil {
			return nil, err
		}
		out[name] = single
	}

	timer.Stop()
	return out, nil
}

// logMonthlyCounts logs the number of rows per month of a target panel.
func (p *Pipeline) logMonthlyCounts(target string, s *panel.Store) {
	counts := make(map[int]int)
	for _, r := range s.Records {
		counts[panel.MonthIndex(r.Date)]++
	}

	dates := s.Dates()
	if len(dates) == 0 {
		p.log.Warn().Str("target", target).Msg("No rows left after continuity check")
		return
	}

	least, most := s.Len(), 0
	for _, d := range dates {
		n := counts[panel.MonthIndex(d)]
		least = min(least, n)
		most = max(most, n)
		p.log.Debug().Str("target", target).Str("month", d.Format("2006-01")).Int("rows", n).Msg("Monthly row count")
	}
	p.log.Info().
		Str("target", target).
		Int("months", len(dates)).
		Int("min_rows_per_month", least).
		Int("max_rows_per_month", most).
		Msg("Monthly row counts")
}
