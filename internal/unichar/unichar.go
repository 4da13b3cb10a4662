// Package unichar holds the character-class table shared by a language's
// classifier, dictionary and training data.
package unichar

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ID identifies a unichar inside one Set.
type ID int

const (
	// Space is always present and doubles as the "unrecognised" unichar.
	Space ID = 0
	// Invalid is returned for lookups that fail.
	Invalid ID = -1

	// DefaultCapacity bounds the class table unless overridden.
	DefaultCapacity = 4096
)

// ErrCapacity is returned by Add when the table is full.
var ErrCapacity = fmt.Errorf("unichar table capacity exceeded")

type props struct {
	upper, lower, digit, alpha, punct bool
	otherCase                         ID
}

// Set is an ordered, capacity-bounded unichar table.
type Set struct {
	capacity int
	strs     []string
	props    []props
	ids      map[string]ID
}

// NewSet creates a table containing only the space unichar.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Set{
		capacity: capacity,
		ids:      make(map[string]ID),
	}
	s.strs = append(s.strs, " ")
	s.props = append(s.props, props{otherCase: Space})
	s.ids[" "] = Space
	return s
}

// FromStrings builds a set from the given unichars, in order.
func FromStrings(capacity int, unichars ...string) (*Set, error) {
	s := NewSet(capacity)
	for _, u := range unichars {
		if _, err := s.Add(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Size returns the number of unichars, including space.
func (s *Set) Size() int { return len(s.strs) }

// Capacity returns the maximum number of unichars.
func (s *Set) Capacity() int { return s.capacity }

// Add registers a unichar, returning its id. Existing unichars return their
// current id.
func (s *Set) Add(u string) (ID, error) {
	u = norm.NFC.String(u)
	if u == "" {
		return Invalid, fmt.Errorf("empty unichar")
	}
	if id, ok := s.ids[u]; ok {
		return id, nil
	}
	if len(s.strs) >= s.capacity {
		return Invalid, fmt.Errorf("%w: adding %q to table of %d", ErrCapacity, u, s.capacity)
	}
	id := ID(len(s.strs))
	s.strs = append(s.strs, u)
	s.props = append(s.props, classify(u))
	s.ids[u] = id
	s.linkCase(id)
	return id, nil
}

func classify(u string) props {
	p := props{otherCase: Invalid}
	if IsFragment(u) {
		return p
	}
	r, size := utf8.DecodeRuneInString(u)
	if size != len(u) {
		// Multi-rune unichars (ligatures, clusters) take the class of the first rune.
		p.alpha = unicode.IsLetter(r)
		return p
	}
	p.upper = unicode.IsUpper(r)
	p.lower = unicode.IsLower(r)
	p.digit = unicode.IsDigit(r)
	p.alpha = unicode.IsLetter(r)
	p.punct = unicode.IsPunct(r) || unicode.IsSymbol(r)
	return p
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

func (s *Set) linkCase(id ID) {
	p := &s.props[id]
	u := s.strs[id]
	var other string
	switch {
	case p.upper:
		other = lowerCaser.String(u)
	case p.lower:
		other = upperCaser.String(u)
	default:
		p.otherCase = id
		return
	}
	if oid, ok := s.ids[other]; ok && oid != id {
		p.otherCase = oid
		s.props[oid].otherCase = id
		return
	}
	p.otherCase = id
}

// ID looks up a unichar, returning Invalid when absent.
func (s *Set) ID(u string) ID {
	if id, ok := s.ids[norm.NFC.String(u)]; ok {
		return id
	}
	return Invalid
}

// Contains reports whether the id is valid for this set.
func (s *Set) Contains(id ID) bool { return id >= 0 && int(id) < len(s.strs) }

// String returns the unichar for id, or "" when out of range.
func (s *Set) String(id ID) string {
	if !s.Contains(id) {
		return ""
	}
	return s.strs[id]
}

// Join renders a sequence of ids.
func (s *Set) Join(ids []ID) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(s.String(id))
	}
	return b.String()
}

// Encode maps text to ids one rune at a time, adding unknown runes when add is
// set, otherwise mapping them to Space.
func (s *Set) Encode(text string, add bool) ([]ID, error) {
	text = norm.NFC.String(text)
	ids := make([]ID, 0, len(text))
	for _, r := range text {
		u := string(r)
		id := s.ID(u)
		if id == Invalid {
			if !add {
				ids = append(ids, Space)
				continue
			}
			var err error
			if id, err = s.Add(u); err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Set) IsUpper(id ID) bool { return s.Contains(id) && s.props[id].upper }
func (s *Set) IsLower(id ID) bool { return s.Contains(id) && s.props[id].lower }
func (s *Set) IsDigit(id ID) bool { return s.Contains(id) && s.props[id].digit }
func (s *Set) IsAlpha(id ID) bool { return s.Contains(id) && s.props[id].alpha }
func (s *Set) IsPunct(id ID) bool { return s.Contains(id) && s.props[id].punct }

// OtherCase returns the opposite-case id, or id itself when none is known.
func (s *Set) OtherCase(id ID) ID {
	if !s.Contains(id) || s.props[id].otherCase == Invalid {
		return id
	}
	return s.props[id].otherCase
}

// FragmentLabel names piece pos (0-based) of total of unichar u.
func FragmentLabel(u string, pos, total int) string {
	return "|" + u + "|" + strconv.Itoa(pos) + "|" + strconv.Itoa(total) + "|"
}

// IsFragment reports whether u was produced by FragmentLabel.
func IsFragment(u string) bool {
	_, _, _, ok := ParseFragment(u)
	return ok
}

// ParseFragment splits a fragment label.
func ParseFragment(u string) (base string, pos, total int, ok bool) {
	if len(u) < 7 || u[0] != '|' || u[len(u)-1] != '|' {
		return "", 0, 0, false
	}
	parts := strings.Split(u[1:len(u)-1], "|")
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, 0, false
	}
	p, err1 := strconv.Atoi(parts[1])
	t, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || p < 0 || t <= p {
		return "", 0, 0, false
	}
	return parts[0], p, t, true
}
