// Package preprocessing cleans monthly panels before targets are built:
// duplicate removal, monthly continuity checks and the (entity, month) join.
package preprocessing

import (
	"time"

	"github.com/aristath/returnlab/internal/modules/panel"
)

// DedupScope selects which identifiers make two rows duplicates.
type DedupScope int

const (
	// ScopeEntitySecondary treats rows sharing (entity, secondary, date) as duplicates.
	ScopeEntitySecondary DedupScope = iota
	// ScopeEntity treats rows sharing (entity, date) as duplicates, which also
	// makes the panel safe to join on (entity, month).
	ScopeEntity
)

type dedupKey struct {
	entity    string
	secondary string
	date      time.Time
}

// Deduplicate keeps the first-encountered row of every duplicate key and
// returns the remaining rows, in original order, as the discarded set.
func Deduplicate(s *panel.Store, scope DedupScope) (clean, discarded *panel.Store) {
	seen := make(map[dedupKey]bool, len(s.Records))
	kept := make([]panel.Record, 0, len(s.Records))
	var dropped []panel.Record

	for _, r := range s.Records {
		k := dedupKey{entity: r.EntityID, date: r.Date}
		if scope == ScopeEntitySecondary {
			k.secondary = r.SecondaryID
		}
		if seen[k] {
			dropped = append(dropped, r)
			continue
		}
		seen[k] = true
		kept = append(kept, r)
	}

	return s.WithRecords(kept), s.WithRecords(dropped)
}
