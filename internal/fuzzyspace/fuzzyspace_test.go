package fuzzyspace

import (
	"strings"
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr/ocrtest"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

var charset = ocrtest.Charset()

type confirm int

const (
	unconfirmed confirm = iota
	byDictionary
	byNumber
	byClassifier
	failed
)

func scored(id int, text string, how confirm) *page.Word {
	w := ocrtest.Word(id, id*100, len(text))
	c := ocrtest.Choice(charset, text, 1, -4)
	switch how {
	case byDictionary:
		c = c.WithPermuter(page.PermSystemDict)
	case byNumber:
		c = c.WithPermuter(page.PermNumber)
	}
	w.SetChoices([]*page.WordChoice{c})
	switch how {
	case byClassifier:
		w.SetFlag(page.FlagClassifierAccepted, true)
	case failed:
		w.SetFlag(page.FlagClassifierFailed, true)
	}
	return w
}

func TestScore(t *testing.T) {
	testCases := []struct {
		name  string
		words []*page.Word
		want  int
	}{
		{
			name:  "every word confirmed",
			words: []*page.Word{scored(1, "ab", byDictionary), scored(2, "cd", byClassifier)},
			want:  PerfectScore,
		},
		{
			name:  "confirmed word lengths add up",
			words: []*page.Word{scored(1, "abc", byDictionary), scored(2, "xy", unconfirmed)},
			want:  3,
		},
		{
			name:  "joined 1/I/l pairs score inside unconfirmed words",
			words: []*page.Word{scored(1, "Il1", unconfirmed)},
			want:  2,
		},
		{
			name:  "ambiguous l before a number blocks the number",
			words: []*page.Word{scored(1, "al", unconfirmed), scored(2, "23", byNumber)},
			want:  0,
		},
		{
			name:  "plain letters before a number do not block",
			words: []*page.Word{scored(1, "ab", unconfirmed), scored(2, "23", byNumber)},
			want:  2,
		},
		{
			name:  "digit before a confirmed literal 1 blocks",
			words: []*page.Word{scored(1, "23", byNumber), scored(2, "1x", byDictionary), scored(3, "zz", unconfirmed)},
			want:  0,
		},
		{
			name:  "letters before a confirmed literal 1 do not block",
			words: []*page.Word{scored(1, "ab", unconfirmed), scored(2, "1x", byDictionary)},
			want:  2,
		},
		{
			name:  "failed word ends the streak",
			words: []*page.Word{scored(1, "ab", byDictionary), scored(2, "??", failed)},
			want:  2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.words); got != tc.want {
				t.Errorf("Score = %d, want %d", got, tc.want)
			}
		})
	}
}

// letters maps outline ids to the character the fake classifier reads.
type letters map[int]string

func (l letters) classifier(dict ...string) Classify {
	valid := make(map[string]bool)
	for _, d := range dict {
		valid[d] = true
	}
	return func(w *page.Word) {
		var sb strings.Builder
		for _, b := range w.Blobs {
			sb.WriteString(l[b.Outlines[0].ID])
		}
		c := ocrtest.Choice(charset, sb.String(), 1, -4)
		if valid[sb.String()] {
			c = c.WithPermuter(page.PermSystemDict)
		}
		w.SetChoices([]*page.WordChoice{c})
	}
}

// fuzzyRow builds "fo rm at" with a narrow first gap and a wider second one,
// both marked fuzzy, and classifies it.
func fuzzyRow(classify Classify) *page.Row {
	words := []*page.Word{
		ocrtest.Word(1, 0, 2),
		ocrtest.Word(2, 25, 2),
		ocrtest.Word(3, 55, 2),
	}
	words[1].SetFlag(page.FlagFuzzySpace, true)
	words[2].SetFlag(page.FlagFuzzySpace, true)
	for _, w := range words {
		classify(w)
	}
	r := &page.Row{Words: words}
	r.ResetLineFlags()
	return r
}

var formAt = letters{100: "f", 101: "o", 200: "r", 201: "m", 300: "a", 301: "t"}

func rowText(r *page.Row) []string {
	var out []string
	for _, w := range r.Words {
		out = append(out, w.Text())
	}
	return out
}

func TestResolveRowKeepsBestIntermediate(t *testing.T) {
	classify := formAt.classifier("form")
	r := fuzzyRow(classify)

	res := New(classify, nil).ResolveRow(r)
	if res.Runs != 1 || res.Improved != 1 {
		t.Fatalf("result = %+v", res)
	}
	got := rowText(r)
	if len(got) != 2 || got[0] != "form" || got[1] != "at" {
		t.Fatalf("row = %v, want [form at]", got)
	}
	for _, w := range r.Words {
		if w.Has(page.FlagCombination) || w.Has(page.FlagPartOfCombo) {
			t.Errorf("word %q still carries combination flags", w.Text())
		}
	}
	if !r.Words[0].Has(page.FlagBOL) || !r.Words[1].Has(page.FlagEOL) {
		t.Error("line flags not restored")
	}
	if r.Words[0].Box.Left != 0 || r.Words[0].Box.Right != 47 {
		t.Errorf("joined box = %+v", r.Words[0].Box)
	}
}

func TestResolveRowJoinsWholeRun(t *testing.T) {
	classify := formAt.classifier("format")
	r := fuzzyRow(classify)

	New(classify, nil).ResolveRow(r)
	got := rowText(r)
	if len(got) != 1 || got[0] != "format" {
		t.Fatalf("row = %v, want [format]", got)
	}
	w := r.Words[0]
	if len(w.Blobs) != 6 {
		t.Errorf("blobs = %d, want 6", len(w.Blobs))
	}
	if !w.Has(page.FlagBOL) || !w.Has(page.FlagEOL) {
		t.Error("single word must be both BOL and EOL")
	}
}

func TestResolveRowLeavesRunWhenNothingImproves(t *testing.T) {
	classify := formAt.classifier()
	r := fuzzyRow(classify)
	before := append([]*page.Word(nil), r.Words...)

	res := New(classify, nil).ResolveRow(r)
	if res.Improved != 0 {
		t.Errorf("improved = %d, want 0", res.Improved)
	}
	if len(r.Words) != len(before) {
		t.Fatalf("row has %d words, want %d", len(r.Words), len(before))
	}
	for i := range before {
		if r.Words[i] != before[i] {
			t.Errorf("word %d replaced", i)
		}
	}
}

func TestResolveRowIgnoresFirmSpaces(t *testing.T) {
	classify := formAt.classifier("format")
	r := fuzzyRow(classify)
	for _, w := range r.Words {
		w.SetFlag(page.FlagFuzzySpace, false)
	}
	res := New(classify, nil).ResolveRow(r)
	if res.Runs != 0 || len(r.Words) != 3 {
		t.Errorf("runs = %d words = %d, want no search", res.Runs, len(r.Words))
	}
}

func TestSearchBounds(t *testing.T) {
	// Gaps of assorted widths, some tied, over runs of one to seven words.
	gaps := []int{3, 7, 3, 1, 9, 4}
	for n := 1; n <= 7; n++ {
		l := letters{}
		var words []*page.Word
		left := 0
		for i := 0; i < n; i++ {
			w := ocrtest.Word(i+1, left, 2)
			l[(i+1)*100] = string(rune('a' + i))
			l[(i+1)*100+1] = string(rune('a' + i))
			left = w.Box.Right
			if i < len(gaps) {
				left += gaps[i]
			}
			words = append(words, w)
		}
		// Confirms only some of the joined spellings.
		classify := l.classifier("aabb", "ccddee", "ff")
		for _, w := range words {
			classify(w)
		}

		out := New(classify, nil).Search(words)
		if out.Score < out.Initial {
			t.Errorf("n=%d: score %d below initial %d", n, out.Score, out.Initial)
		}
		if out.Steps > max(n-1, 0) {
			t.Errorf("n=%d: %d steps, bound %d", n, out.Steps, n-1)
		}
		if got := Score(out.Words); got != out.Score {
			t.Errorf("n=%d: returned words score %d, reported %d", n, got, out.Score)
		}
	}
}

func TestSearchDoesNotTouchOriginals(t *testing.T) {
	classify := formAt.classifier("format")
	r := fuzzyRow(classify)
	words := append([]*page.Word(nil), r.Words...)
	New(classify, nil).Search(words)
	for _, w := range words {
		if w.Has(page.FlagPartOfCombo) || len(w.Blobs) != 2 {
			t.Errorf("original word %d mutated", w.ID)
		}
	}
}
