// Package dictionary provides the word and bigram lists recognition
// validates against, held in memory and persisted in files or Redis.
package dictionary

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// FileExtension names word-list files: <dir>/<lang>.words
const FileExtension = ".words"

// bigramSep joins the two halves of a bigram key. It never occurs in a
// word because words are split on whitespace.
const bigramSep = "\t"

// WordList is an in-memory ocr.Dictionary. Lookups are case-folded, so
// "The", "THE" and "the" are all valid when any of them was added.
type WordList struct {
	words   map[string]struct{}
	bigrams map[string]struct{}
}

// NewWordList creates an empty list
func NewWordList() *WordList {
	return &WordList{words: make(map[string]struct{}), bigrams: make(map[string]struct{})}
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func (d *WordList) Add(word string) {
	if word = strings.TrimSpace(word); word != "" {
		d.words[fold(word)] = struct{}{}
	}
}

func (d *WordList) AddBigram(a, b string) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return
	}
	d.bigrams[fold(a)+bigramSep+fold(b)] = struct{}{}
}

// Len counts words, not bigrams.
func (d *WordList) Len() int { return len(d.words) }

// Words returns the folded words, sorted.
func (d *WordList) Words() []string {
	out := make([]string, 0, len(d.words))
	for w := range d.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Bigrams returns the folded bigrams, sorted.
func (d *WordList) Bigrams() [][2]string {
	out := make([][2]string, 0, len(d.bigrams))
	for k := range d.bigrams {
		a, b, _ := strings.Cut(k, bigramSep)
		out = append(out, [2]string{a, b})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Valid reports whether c's text is a listed word.
func (d *WordList) Valid(c *page.WordChoice) bool {
	if c == nil || c.Len() == 0 {
		return false
	}
	_, ok := d.words[fold(c.String())]
	return ok
}

// ValidBigram reports whether a followed by b is a listed pair.
func (d *WordList) ValidBigram(a, b *page.WordChoice) bool {
	if a == nil || b == nil {
		return false
	}
	_, ok := d.bigrams[fold(a.String())+bigramSep+fold(b.String())]
	return ok
}

// PermuterIsDictionaryLike counts the three dictionary permuters; numbers
// are not dictionary words.
func (d *WordList) PermuterIsDictionaryLike(p page.Permuter) bool {
	return page.ValidWordPermuter(p, false)
}

// Read parses a word list: one word per line, or two words for a bigram.
// Blank lines and lines starting with '#' are skipped.
func Read(r io.Reader) (*WordList, error) {
	d := NewWordList()
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 1:
			d.Add(fields[0])
		case 2:
			d.AddBigram(fields[0], fields[1])
		default:
			return nil, fmt.Errorf("line %d: expected a word or a bigram, got %d fields", line, len(fields))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}
	return d, nil
}

// Write renders d in the format Read parses.
func Write(w io.Writer, d *WordList) error {
	bw := bufio.NewWriter(w)
	for _, word := range d.Words() {
		fmt.Fprintln(bw, word)
	}
	for _, pair := range d.Bigrams() {
		fmt.Fprintln(bw, pair[0], pair[1])
	}
	return bw.Flush()
}

// LoadFile reads a word list from path
func LoadFile(path string) (*WordList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open word list: %w", err)
	}
	defer f.Close()
	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// FilePath is where LoadFile finds lang's list inside dir.
func FilePath(dir, lang string) string {
	return filepath.Join(dir, lang+FileExtension)
}

// FileStore loads word lists from <Dir>/<lang>.words. A missing file loads
// as an empty list.
type FileStore struct {
	Dir string
}

func (s FileStore) Load(_ context.Context, lang string) (*WordList, error) {
	d, err := LoadFile(FilePath(s.Dir, lang))
	if errors.Is(err, fs.ErrNotExist) {
		return NewWordList(), nil
	}
	return d, err
}
