package page

import "strings"

// Reject is a set of rejection reasons for one character. The zero value is
// accepted.
type Reject uint16

const (
	RejTessFailure Reject = 1 << iota
	RejPoorMatch
	RejNotAccepted
	RejSpace
	RejWordQuality
	RejDocQuality
	RejBlockQuality
	RejRowQuality
	RejUnlvSubstitution
	RejCrunch
)

// LevelReasons are set only by the page-level steps of the quality cascade,
// the level rejections and garbage crunching.
const LevelReasons = RejDocQuality | RejBlockQuality | RejRowQuality | RejCrunch

var rejectNames = []struct {
	r    Reject
	name string
}{
	{RejTessFailure, "tess-failure"},
	{RejPoorMatch, "poor-match"},
	{RejNotAccepted, "not-accepted"},
	{RejSpace, "space"},
	{RejWordQuality, "word-quality"},
	{RejDocQuality, "doc-quality"},
	{RejBlockQuality, "block-quality"},
	{RejRowQuality, "row-quality"},
	{RejUnlvSubstitution, "unlv-substitution"},
	{RejCrunch, "crunch"},
}

func (r Reject) Accepted() bool { return r == 0 }
func (r Reject) Rejected() bool { return r != 0 }

// Has reports whether any of reasons is set.
func (r Reject) Has(reasons Reject) bool { return r&reasons != 0 }

// Reasons names every reason set in r.
func (r Reject) Reasons() []string {
	var out []string
	for _, n := range rejectNames {
		if r&n.r != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (r Reject) String() string {
	if r == 0 {
		return "accepted"
	}
	return strings.Join(r.Reasons(), "|")
}

// RejectMap holds one Reject per character of a word's best choice.
type RejectMap []Reject

// NewRejectMap returns an all-accepted map of length n.
func NewRejectMap(n int) RejectMap { return make(RejectMap, n) }

// RejectCount counts rejected characters.
func (m RejectMap) RejectCount() int {
	n := 0
	for _, r := range m {
		if r.Rejected() {
			n++
		}
	}
	return n
}

// CountExcluding counts characters rejected for a reason outside mask.
func (m RejectMap) CountExcluding(mask Reject) int {
	n := 0
	for _, r := range m {
		if r&^mask != 0 {
			n++
		}
	}
	return n
}

// AcceptCount counts accepted characters.
func (m RejectMap) AcceptCount() int { return len(m) - m.RejectCount() }

// RejectAll adds reason to every character.
func (m RejectMap) RejectAll(reason Reject) {
	for i := range m {
		m[i] |= reason
	}
}

// Clear removes the given reasons from every character.
func (m RejectMap) Clear(reasons Reject) {
	for i := range m {
		m[i] &^= reasons
	}
}

// Clone copies the map.
func (m RejectMap) Clone() RejectMap { return append(RejectMap(nil), m...) }
