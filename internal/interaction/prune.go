package interaction

import "github.com/sackio/unibrowse-sub002/api/schemas"

// planPrune returns the positions in events (ascending id order) to delete.
//
// The eligible set is every event the matcher accepts. KeepLast and KeepFirst
// then protect the newest and oldest eligible events. RemoveOldest, when set,
// caps the removal to that many of the oldest events still unprotected.
func planPrune(events []schemas.InteractionEvent, m matcher, c schemas.PruneCriteria) []int {
	eligible := make([]int, 0, len(events))
	for i := range events {
		if m.match(&events[i]) {
			eligible = append(eligible, i)
		}
	}

	if c.KeepLast != nil {
		eligible = eligible[:len(eligible)-min(*c.KeepLast, len(eligible))]
	}
	if c.KeepFirst != nil {
		eligible = eligible[min(*c.KeepFirst, len(eligible)):]
	}
	if c.RemoveOldest != nil {
		eligible = eligible[:min(*c.RemoveOldest, len(eligible))]
	}
	return eligible
}

// without returns a new slice holding events minus the given positions, and
// the ids that were dropped. positions must be ascending.
func without(events []schemas.InteractionEvent, positions []int) ([]schemas.InteractionEvent, []int64) {
	kept := make([]schemas.InteractionEvent, 0, len(events)-len(positions))
	removed := make([]int64, 0, len(positions))
	next := 0
	for i := range events {
		if next < len(positions) && positions[next] == i {
			removed = append(removed, events[i].ID)
			next++
			continue
		}
		kept = append(kept, events[i])
	}
	return kept, removed
}

func pruneBefore(cutoff int64) schemas.PruneCriteria {
	return schemas.PruneCriteria{Before: &cutoff}
}
