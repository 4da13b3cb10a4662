package correct

import (
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr/ocrtest"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

type ranked struct {
	text   string
	rating float32
}

func newCorrector(dict *ocrtest.Dictionary) *Corrector {
	langs := ocr.Languages{{Code: "eng", Charset: charset, Dictionary: dict}}
	return New(langs, config.DefaultParams().Passes, nil)
}

var charset = ocrtest.Charset()

func classified(id int, choices ...ranked) *page.Word {
	w := ocrtest.Word(id, id*100, len(choices[0].text))
	var list []*page.WordChoice
	for _, c := range choices {
		list = append(list, ocrtest.Choice(charset, c.text, c.rating, -3))
	}
	w.SetChoices(list)
	w.Language = "eng"
	return w
}

func onePage(words ...*page.Word) *page.Page {
	r := &page.Row{Words: words}
	r.ResetLineFlags()
	return &page.Page{Blocks: []*page.Block{{Rows: []*page.Row{r}}}}
}

func TestDictionaryCorrection(t *testing.T) {
	testCases := []struct {
		name    string
		choices []ranked
		want    string
	}{
		{
			name:    "first valid alternate wins",
			choices: []ranked{{"helo", 1}, {"hello", 2}, {"halo", 3}},
			want:    "hello",
		},
		{
			name:    "valid best choice is kept",
			choices: []ranked{{"halo", 1}, {"hello", 2}},
			want:    "halo",
		},
		{
			name:    "no valid alternate",
			choices: []ranked{{"xqz", 1}, {"xqq", 2}},
			want:    "xqz",
		},
		{
			name:    "single choice is never touched",
			choices: []ranked{{"helo", 1}},
			want:    "helo",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := classified(1, tc.choices...)
			c := newCorrector(ocrtest.NewDictionary("hello", "halo"))
			c.Dictionary(onePage(w))
			if got := w.Text(); got != tc.want {
				t.Errorf("best choice = %q, want %q", got, tc.want)
			}
			if len(w.RejectMap) != w.BestChoice.Len() {
				t.Errorf("reject map length %d, best choice length %d", len(w.RejectMap), w.BestChoice.Len())
			}
		})
	}
}

func TestBigramCorrectionPicksCheapestValidPair(t *testing.T) {
	first := classified(1, ranked{"tbe", 2}, ranked{"the", 3}, ranked{"tho", 4})
	second := classified(2, ranked{"cal", 2}, ranked{"cat", 3}, ranked{"car", 3.5})
	dict := ocrtest.NewDictionary().
		WithBigram("the", "cat").
		WithBigram("tho", "car")

	changed := newCorrector(dict).Bigram(onePage(first, second))
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if first.Text() != "the" || second.Text() != "cat" {
		t.Errorf("got %q %q, want \"the\" \"cat\"", first.Text(), second.Text())
	}
	if first.BestChoice != first.Choices[1] || second.BestChoice != second.Choices[1] {
		t.Error("best choice must point at an existing alternate")
	}
	for _, w := range []*page.Word{first, second} {
		if len(w.RejectMap) != w.BestChoice.Len() {
			t.Errorf("word %d: reject map length %d, best choice length %d", w.ID, len(w.RejectMap), w.BestChoice.Len())
		}
	}
}

func TestBigramCorrectionSkips(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(a, b *page.Word)
		dict  *ocrtest.Dictionary
	}{
		{
			name: "pair already valid",
			dict: ocrtest.NewDictionary().WithBigram("tbe", "cal").WithBigram("the", "cat"),
		},
		{
			name: "winner differs only by case",
			setup: func(a, b *page.Word) {
				a.SetChoices([]*page.WordChoice{
					ocrtest.Choice(charset, "tbe", 2, -3),
					ocrtest.Choice(charset, "TBE", 3, -3),
				})
			},
			dict: ocrtest.NewDictionary().WithBigram("TBE", "cal"),
		},
		{
			name: "repeated character word",
			setup: func(a, b *page.Word) {
				a.SetFlag(page.FlagRepeatedChar, true)
			},
			dict: ocrtest.NewDictionary().WithBigram("the", "cat"),
		},
		{
			name: "different character sets",
			setup: func(a, b *page.Word) {
				other := ocrtest.Charset("é")
				b.SetChoices([]*page.WordChoice{
					ocrtest.Choice(other, "cal", 2, -3),
					ocrtest.Choice(other, "cat", 3, -3),
				})
			},
			dict: ocrtest.NewDictionary().WithBigram("the", "cat"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := classified(1, ranked{"tbe", 2}, ranked{"the", 3})
			b := classified(2, ranked{"cal", 2}, ranked{"cat", 3})
			if tc.setup != nil {
				tc.setup(a, b)
			}
			wantA, wantB := a.Text(), b.Text()
			if changed := newCorrector(tc.dict).Bigram(onePage(a, b)); changed != 0 {
				t.Errorf("changed = %d, want 0", changed)
			}
			if a.Text() != wantA || b.Text() != wantB {
				t.Errorf("got %q %q, want %q %q", a.Text(), b.Text(), wantA, wantB)
			}
		})
	}
}
