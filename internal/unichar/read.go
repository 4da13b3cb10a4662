package unichar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Read loads a set from a unicharset listing: the first field of each line
// is a unichar. A leading line holding only a count is skipped, as is the
// "NULL" entry tesseract uses for space.
func Read(r io.Reader, capacity int) (*Set, error) {
	s := NewSet(capacity)
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if first {
			first = false
			if _, err := strconv.Atoi(fields[0]); err == nil && len(fields) == 1 {
				continue
			}
		}
		if fields[0] == "NULL" {
			continue
		}
		if _, err := s.Add(fields[0]); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read unicharset: %w", err)
	}
	return s, nil
}

// LoadFile reads a unicharset listing from path
func LoadFile(path string, capacity int) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open unicharset: %w", err)
	}
	defer f.Close()
	s, err := Read(f, capacity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Latin returns printable ASCII plus the Latin-1 letters and signs, the
// table used when a language ships no unicharset.
func Latin(capacity int) *Set {
	s := NewSet(capacity)
	for r := '!'; r <= '~'; r++ {
		s.Add(string(r))
	}
	for r := '\u00a1'; r <= '\u00ff'; r++ {
		if r == '\u00ad' { // soft hyphen
			continue
		}
		s.Add(string(r))
	}
	return s
}
