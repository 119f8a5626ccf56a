package journal

// Stats is a fold over a journal prefix. The stopping rules are functions
// of these three counters, so any session replaying the same prefix reaches
// the same verdict.
type Stats struct {
	// TotalReviewed is the number of entries in the prefix.
	TotalReviewed int
	// RelevantReviewed counts entries labeled relevant.
	RelevantReviewed int
	// TrailingNonRelevant is the length of the run of non-relevant labels
	// at the end of the prefix.
	TrailingNonRelevant int
}

// Fold computes Stats over a slice of entries.
func Fold(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		s.TotalReviewed++
		if e.Label == Relevant {
			s.RelevantReviewed++
			s.TrailingNonRelevant = 0
		} else {
			s.TrailingNonRelevant++
		}
	}
	return s
}

// StatsAt returns the fold over the first k entries.
func (j *Journal) StatsAt(k int) Stats {
	return Fold(j.Prefix(k))
}

// Stats returns the fold over the whole journal.
func (j *Journal) Stats() Stats {
	return Fold(j.Entries())
}
