package gbl

//SplitEntry records the best split candidate found so far for one node.
//The zero value means "no split".
type SplitEntry struct {
	LossChg     float64
	SplitIndex  int
	SplitValue  float64
	DefaultLeft bool
}

//NeedReplace decides whether a new candidate beats the current one. Ties on
//the loss change are broken by the smaller feature index, then the smaller
//split value, then default-right before default-left. The total order makes
//Update commutative and associative, which the distributed reduction of
//split candidates relies on.
func (s *SplitEntry) NeedReplace(lossChg float64, splitIndex int, splitValue float64, defaultLeft bool) bool {
	if lossChg != s.LossChg {
		return lossChg > s.LossChg
	}
	if splitIndex != s.SplitIndex {
		return splitIndex < s.SplitIndex
	}
	if splitValue != s.SplitValue {
		return splitValue < s.SplitValue
	}
	return !defaultLeft && s.DefaultLeft
}

//Update replaces the receiver with the given candidate when it wins the
//tie-break and reports whether a replacement happened.
func (s *SplitEntry) Update(lossChg float64, splitIndex int, splitValue float64, defaultLeft bool) bool {
	if !s.NeedReplace(lossChg, splitIndex, splitValue, defaultLeft) {
		return false
	}
	s.LossChg = lossChg
	s.SplitIndex = splitIndex
	s.SplitValue = splitValue
	s.DefaultLeft = defaultLeft
	return true
}

//UpdateEntry merges another entry into the receiver under the same order.
func (s *SplitEntry) UpdateEntry(e SplitEntry) bool {
	return s.Update(e.LossChg, e.SplitIndex, e.SplitValue, e.DefaultLeft)
}
