// Package boxfile rewrites a page's word layer from a ground-truth box file
// so the labeled words can be used as training samples.
package boxfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// AllPages disables page filtering in Read.
const AllPages = -1

// Entry is one line of a box file.
type Entry struct {
	Label string
	Box   page.Box
	Page  int
	// Line is 1-based, for diagnostics.
	Line int
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %d %d %d %d %d", e.Label, e.Box.Left, e.Box.Bottom, e.Box.Right, e.Box.Top, e.Page)
}

// ReadResult is everything Read found in a box file.
type ReadResult struct {
	Entries []Entry
	// Malformed counts lines that could not be parsed; they are skipped.
	Malformed int
	// OtherPages counts well-formed lines filtered out by page.
	OtherPages int
}

// Read parses a box file. Lines are
//
//	<label> <left> <bottom> <right> <top> <page> [ignored...]
//
// Labels are NFC-normalised. Only lines for pageNum are kept unless pageNum
// is AllPages. A missing page field means page 0.
func Read(r io.Reader, pageNum int) (*ReadResult, error) {
	res := &ReadResult{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if text == "" {
			continue
		}
		e, ok := parseLine(text)
		if !ok {
			res.Malformed++
			continue
		}
		e.Line = line
		if pageNum != AllPages && e.Page != pageNum {
			res.OtherPages++
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("failed to read box file at line %d: %w", line+1, err)
	}
	return res, nil
}

func parseLine(text string) (Entry, bool) {
	fields := strings.Fields(text)
	if len(fields) < 5 {
		return Entry{}, false
	}
	var coords [5]int
	n := 4
	if len(fields) >= 6 {
		n = 5
	}
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return Entry{}, false
		}
		coords[i] = v
	}
	e := Entry{
		Label: norm.NFC.String(fields[0]),
		Box:   page.Box{Left: coords[0], Bottom: coords[1], Right: coords[2], Top: coords[3]},
		Page:  coords[4],
	}
	if e.Box.Empty() {
		return Entry{}, false
	}
	return e, true
}

// Write renders every labeled single-blob word of p as a box file, in
// reading order.
func Write(w io.Writer, p *page.Page, pageNum int) error {
	bw := bufio.NewWriter(w)
	for _, loc := range p.Words() {
		word := loc.Word
		if !word.Labeled() || len(word.Blobs) != 1 {
			continue
		}
		e := Entry{Label: word.Label, Box: word.Box, Page: pageNum}
		if _, err := fmt.Fprintln(bw, e.String()); err != nil {
			return fmt.Errorf("failed to write box file: %w", err)
		}
	}
	return bw.Flush()
}
