package pipeline

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/aristath/returnlab/internal/modules/targets"
)

// backtestTargets lists the target names the backtests read.
func (p *Pipeline) backtestTargets() []string {
	names := make([]string, len(p.cfg.BacktestHorizons))
	for i, h := range p.cfg.BacktestHorizons {
		names[i] = targets.TargetName(targets.Kind(p.cfg.BacktestTarget), h)
	}
	return names
}

// fingerprint identifies the inputs and the settings that shape the targeted
// panels. A change to any of them invalidates every snapshot.
func (p *Pipeline) fingerprint() (string, error) {
	h := fnv.New64a()
	for _, path := range []string{p.cfg.PricesFile, p.cfg.RatiosFile} {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", path, info.Size(), info.ModTime().UnixNano())
	}
	fmt.Fprintf(h, "%v|%d|%t\n", p.cfg.TargetHorizons, p.cfg.MinConsecutiveMissing, p.cfg.DedupRatios)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (p *Pipeline) snapshotPath(key, name string) string {
	return filepath.Join(p.cfg.OutputDir, "cache", fmt.Sprintf("%s_%s.msgpack", name, key))
}

// loadSnapshots returns the named panels when every one of them has a snapshot.
func (p *Pipeline) loadSnapshots(key string, names []string) (map[string]*panel.Store, bool) {
	stores := make(map[string]*panel.Store, len(names))
	for _, name := range names {
		path := p.snapshotPath(key, name)
		if _, err := os.Stat(path); err != nil {
			return nil, false
		}
		s, err := panel.LoadSnapshot(path)
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("Discarding unreadable snapshot")
			return nil, false
		}
		stores[name] = s
	}
	p.log.Info().Str("key", key).Strs("targets", names).Msg("Loaded targeted panels from snapshots")
	return stores, true
}

// saveSnapshots writes the named panels. Failures only cost the next run a rebuild.
func (p *Pipeline) saveSnapshots(key string, names []string, stores map[string]*panel.Store) {
	for _, name := range names {
		s, ok := stores[name]
		if !ok {
			continue
		}
		if err := panel.SaveSnapshot(p.snapshotPath(key, name), s); err != nil {
			p.log.Warn().Err(err).Str("target", name).Msg("Failed to save snapshot")
		}
	}
}
