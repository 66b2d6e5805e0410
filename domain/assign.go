package domain

// SelectAssignee picks the least-loaded candidate: the user with the fewest
// tasks in a non-terminal status. Ties break in favor of the candidate that
// appears first in the input, so the result is deterministic for a given
// snapshot. The function is pure over the supplied counts; it never reads
// the store.
func SelectAssignee(candidates []User, loads map[string]int) (User, error) {
	if len(candidates) == 0 {
		return User{}, ErrNoCandidates
	}
	best := candidates[0]
	bestLoad := loads[best.ID]
	for _, c := range candidates[1:] {
		if loads[c.ID] < bestLoad {
			best = c
			bestLoad = loads[c.ID]
		}
	}
	return best, nil
}

// LoadCounts tallies non-terminal tasks per assignee from a board snapshot.
func LoadCounts(tasks []Task) map[string]int {
	loads := make(map[string]int)
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		loads[t.AssignedTo]++
	}
	return loads
}
