package store

import "github.com/rloza/tramite/pkg/schema"

// mergeRunLogs unions a caller's log entries with what is already persisted,
// so a run write never discards entries another completion added while the
// caller held its snapshot. Entries are matched per step ID in order of
// occurrence; for a matched pair the entry carrying output wins, so a stale
// placeholder cannot clobber a completed entry. Stored entries the caller's
// snapshot never saw are kept after the caller's view.
func mergeRunLogs(stored, incoming []schema.StepLog) []schema.StepLog {
	if len(stored) == 0 {
		return incoming
	}

	pending := make(map[string][]int, len(stored))
	for i := range stored {
		pending[stored[i].StepID] = append(pending[stored[i].StepID], i)
	}

	consumed := make([]bool, len(stored))
	merged := make([]schema.StepLog, 0, len(incoming)+len(stored))
	for _, entry := range incoming {
		if q := pending[entry.StepID]; len(q) > 0 {
			idx := q[0]
			pending[entry.StepID] = q[1:]
			consumed[idx] = true
			if len(entry.Output) == 0 && len(stored[idx].Output) > 0 {
				entry = stored[idx]
			}
		}
		merged = append(merged, entry)
	}

	for i := range stored {
		if !consumed[i] {
			merged = append(merged, stored[i])
		}
	}
	return merged
}
