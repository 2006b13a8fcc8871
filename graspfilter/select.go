package graspfilter

// ChooseBest deterministically selects the single grasp to act on: the first
// candidate in filtered order. The filter pipeline's survivor ordering is the
// implicit priority; no manipulability or clearance scoring is applied. An
// empty input returns ErrNoCandidates rather than any default.
func ChooseBest(candidates []*Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return candidates[0], nil
}
