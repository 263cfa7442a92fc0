package model

import "sort"

// IDSet is a set of member ids.
type IDSet map[MemberID]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...MemberID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s IDSet) Add(id MemberID) { s[id] = struct{}{} }

// Has reports membership.
func (s IDSet) Has(id MemberID) bool {
	_, ok := s[id]
	return ok
}

// Minus returns the ids of s that are not in other, sorted.
func (s IDSet) Minus(other IDSet) []MemberID {
	var out []MemberID
	for id := range s {
		if !other.Has(id) {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []MemberID {
	out := make([]MemberID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []MemberID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
