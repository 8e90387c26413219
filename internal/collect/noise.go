package collect

import (
	"strings"

	"github.com/beaconhq/boardpulse/internal/tracker"
)

// NoiseFilter removes records attributable to an automated source before
// counting, so automated traffic reported through a separate channel is not
// double-counted. It returns the surviving records and the excluded count.
type NoiseFilter func(items []tracker.WorkItem) ([]tracker.WorkItem, int)

// KeepAll is the identity filter.
func KeepAll(items []tracker.WorkItem) ([]tracker.WorkItem, int) {
	return items, 0
}

// AutomationAccountFilter excludes items created by any of the given
// accounts. Matching is case-insensitive on the creator's account name.
func AutomationAccountFilter(accounts []string) NoiseFilter {
	normalized := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		trimmed := strings.ToLower(strings.TrimSpace(account))
		if trimmed != "" {
			normalized[trimmed] = struct{}{}
		}
	}

	return func(items []tracker.WorkItem) ([]tracker.WorkItem, int) {
		if len(normalized) == 0 {
			return items, 0
		}
		kept := make([]tracker.WorkItem, 0, len(items))
		excluded := 0
		for _, item := range items {
			creator := strings.ToLower(strings.TrimSpace(item.CreatedBy()))
			if _, noisy := normalized[creator]; noisy {
				excluded++
				continue
			}
			kept = append(kept, item)
		}
		return kept, excluded
	}
}
