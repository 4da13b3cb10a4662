package unichar

import (
	"errors"
	"strings"
	"testing"
)

func TestSetCaseLinks(t *testing.T) {
	s, err := FromStrings(0, "a", "B", "A", "1", ".")
	if err != nil {
		t.Fatal(err)
	}
	a, upperA, b := s.ID("a"), s.ID("A"), s.ID("B")

	if s.OtherCase(a) != upperA || s.OtherCase(upperA) != a {
		t.Errorf("a and A should link: %d %d", s.OtherCase(a), s.OtherCase(upperA))
	}
	if s.OtherCase(b) != b {
		t.Error("B has no lower case in the set and should map to itself")
	}
	if !s.IsDigit(s.ID("1")) || !s.IsPunct(s.ID(".")) || !s.IsUpper(b) {
		t.Error("properties not classified")
	}
	if s.ID("z") != Invalid {
		t.Error("absent unichar should be Invalid")
	}
}

func TestSetCapacity(t *testing.T) {
	s := NewSet(2)
	if _, err := s.Add("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("y"); !errors.Is(err, ErrCapacity) {
		t.Errorf("Add past capacity = %v, want ErrCapacity", err)
	}
	if id, err := s.Add("x"); err != nil || id != 1 {
		t.Errorf("re-adding an existing unichar = %d, %v", id, err)
	}
}

func TestEncode(t *testing.T) {
	s, _ := FromStrings(0, "a", "b")
	ids, err := s.Encode("abc", false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Join(ids) != "ab " {
		t.Errorf("unknown runes should map to space, got %q", s.Join(ids))
	}
	ids, err = s.Encode("abc", true)
	if err != nil || s.Join(ids) != "abc" {
		t.Errorf("Encode with add = %q, %v", s.Join(ids), err)
	}
}

func TestFragments(t *testing.T) {
	testCases := []struct {
		in    string
		base  string
		pos   int
		total int
		ok    bool
	}{
		{in: FragmentLabel("m", 1, 3), base: "m", pos: 1, total: 3, ok: true},
		{in: "|m|3|3|", ok: false},
		{in: "|m|x|3|", ok: false},
		{in: "m", ok: false},
	}
	for _, tc := range testCases {
		base, pos, total, ok := ParseFragment(tc.in)
		if ok != tc.ok || base != tc.base || pos != tc.pos || total != tc.total {
			t.Errorf("ParseFragment(%q) = %q %d %d %v", tc.in, base, pos, total, ok)
		}
	}
}

func TestRead(t *testing.T) {
	s, err := Read(strings.NewReader("4\nNULL 0\na 3 ...\nb 3 ...\n\n"), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Size() != 3 || s.ID("a") != 1 || s.ID("b") != 2 {
		t.Errorf("size = %d a = %d b = %d", s.Size(), s.ID("a"), s.ID("b"))
	}

	if _, err := Read(strings.NewReader("x\ny\nz\n"), 3); !errors.Is(err, ErrCapacity) {
		t.Errorf("overfull listing = %v, want ErrCapacity", err)
	}
}

func TestLatin(t *testing.T) {
	s := Latin(0)
	for _, u := range []string{"A", "z", "é", "ß", "~"} {
		if s.ID(u) == Invalid {
			t.Errorf("%q missing", u)
		}
	}
	if s.ID("\u00ad") != Invalid {
		t.Error("soft hyphen should be excluded")
	}
}
