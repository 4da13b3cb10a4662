package boxfile

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr/ocrtest"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

func pageOf(rows ...*page.Row) *page.Page {
	return &page.Page{ID: "train", Blocks: []*page.Block{{Rows: rows}}}
}

func rowOf(words ...*page.Word) *page.Row { return &page.Row{Words: words} }

func entries(t *testing.T, text string) []Entry {
	t.Helper()
	res, err := Read(strings.NewReader(text), AllPages)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return res.Entries
}

func resegmenter(t *testing.T, set *unichar.Set, params config.TrainingParams, targets []int) *Resegmenter {
	t.Helper()
	r, err := NewResegmenter(&Config{Charset: set, Params: params, Targets: targets, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewResegmenter: %v", err)
	}
	return r
}

func labels(p *page.Page) []string {
	var out []string
	for _, loc := range p.Words() {
		out = append(out, loc.Word.Label)
	}
	return out
}

func TestRead(t *testing.T) {
	testCases := []struct {
		name       string
		text       string
		page       int
		want       []Entry
		malformed  int
		otherPages int
	}{
		{
			name: "trailing fields ignored",
			text: "A 1 2 3 4 0 extra stuff\n",
			page: 0,
			want: []Entry{{Label: "A", Box: page.Box{Left: 1, Bottom: 2, Right: 3, Top: 4}, Line: 1}},
		},
		{
			name: "missing page field is page zero",
			text: "A 1 2 3 4\n",
			page: 0,
			want: []Entry{{Label: "A", Box: page.Box{Left: 1, Bottom: 2, Right: 3, Top: 4}, Line: 1}},
		},
		{
			name:       "other pages filtered",
			text:       "A 1 2 3 4 0\nB 5 6 7 8 1\n",
			page:       1,
			want:       []Entry{{Label: "B", Box: page.Box{Left: 5, Bottom: 6, Right: 7, Top: 8}, Page: 1, Line: 2}},
			otherPages: 1,
		},
		{
			name:      "malformed lines skipped",
			text:      "A 1 2\n\nB x 2 3 4 0\nC 9 2 3 4 0\nD 1 2 3 4 0\n",
			page:      AllPages,
			want:      []Entry{{Label: "D", Box: page.Box{Left: 1, Bottom: 2, Right: 3, Top: 4}, Line: 5}},
			malformed: 3,
		},
		{
			name: "labels are normalised",
			text: "e\u0301 1 2 3 4 0\n",
			page: 0,
			want: []Entry{{Label: "\u00e9", Box: page.Box{Left: 1, Bottom: 2, Right: 3, Top: 4}, Line: 1}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Read(strings.NewReader(tc.text), tc.page)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !reflect.DeepEqual(res.Entries, tc.want) {
				t.Errorf("entries = %+v, want %+v", res.Entries, tc.want)
			}
			if res.Malformed != tc.malformed || res.OtherPages != tc.otherPages {
				t.Errorf("malformed = %d other pages = %d", res.Malformed, res.OtherPages)
			}
		})
	}
}

func TestApplyLabelsThreeBoxes(t *testing.T) {
	set := unichar.NewSet(0)
	p := pageOf(rowOf(ocrtest.Word(1, 0, 3)))
	boxes := "A 0 0 10 20 0\nB 12 0 22 20 0\nC 24 0 34 20 0\n"

	sum, err := resegmenter(t, set, config.TrainingParams{}, nil).Apply(p, entries(t, boxes))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sum.BoxFailures != 0 || sum.BoxesApplied != 3 || sum.WordsCreated != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if got := labels(p); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("labels = %v", got)
	}
	for _, loc := range p.Words() {
		w := loc.Word
		if len(w.Blobs) != 1 || w.Text() != w.Label || len(w.RejectMap) != 1 {
			t.Errorf("word %q: %d blobs, text %q", w.Label, len(w.Blobs), w.Text())
		}
	}

	var out bytes.Buffer
	if err := Write(&out, p, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.String() != boxes {
		t.Errorf("written box file = %q, want %q", out.String(), boxes)
	}
}

func TestApplyBoxFailures(t *testing.T) {
	// Two rows stacked at the same x.
	upper := page.NewWord(2, page.NewBlob(&page.Outline{ID: 9, Box: page.Box{Left: 0, Bottom: 30, Right: 10, Top: 50}}))

	testCases := []struct {
		name      string
		box       string
		conflicts int
		labelFail int
	}{
		{name: "overlaps nothing", box: "A 100 0 110 20 0", labelFail: 1},
		{name: "overlaps multiple rows", box: "A 0 0 10 50 0", conflicts: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := pageOf(rowOf(ocrtest.Word(1, 0, 1)), rowOf(upper.CloneOwned()))
			sum, err := resegmenter(t, unichar.NewSet(0), config.TrainingParams{}, nil).Apply(p, entries(t, tc.box))
			if err != nil {
				t.Fatalf("a box failure must not abort the run: %v", err)
			}
			if sum.BoxFailures != 1 || sum.SegmentationConflicts != tc.conflicts || sum.LabelFailures != tc.labelFail {
				t.Errorf("summary = %+v", sum)
			}
			if len(sum.Failures) != 1 {
				t.Fatalf("failures = %v", sum.Failures)
			}
			wantCode := apperrors.ErrorLabelingFailure
			if tc.conflicts > 0 {
				wantCode = apperrors.ErrorSegmentationConflict
			}
			if !apperrors.Is(sum.Failures[0], wantCode) {
				t.Errorf("failure = %v, want %s", sum.Failures[0], wantCode)
			}
			// Nothing was labeled, so every word and row is gone.
			if p.WordCount() != 0 || sum.RowsDropped != 2 {
				t.Errorf("words = %d rows dropped = %d", p.WordCount(), sum.RowsDropped)
			}
		})
	}
}

func TestApplyCorruptsRelabeledWords(t *testing.T) {
	p := pageOf(rowOf(ocrtest.Word(1, 0, 3)))
	boxes := "A 0 0 10 20 0\nC 24 0 34 20 0\nX 0 0 22 20 0\n"

	sum, err := resegmenter(t, unichar.NewSet(0), config.TrainingParams{}, nil).Apply(p, entries(t, boxes))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sum.CorruptedWords != 1 {
		t.Errorf("corrupted = %d, want 1", sum.CorruptedWords)
	}
	if got := labels(p); !reflect.DeepEqual(got, []string{"X", "C"}) {
		t.Fatalf("labels = %v", got)
	}
	x := p.Blocks[0].Rows[0].Words[0]
	if len(x.Blobs) != 1 || len(x.Blobs[0].Outlines) != 2 {
		t.Errorf("X should own both outlines in one blob")
	}
}

func TestApplyFragmentMode(t *testing.T) {
	testCases := []struct {
		name     string
		fragment bool
		want     []string
	}{
		{name: "whole character", want: []string{"i"}},
		{name: "fragments", fragment: true, want: []string{
			unichar.FragmentLabel("i", 0, 2),
			unichar.FragmentLabel("i", 1, 2),
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := unichar.NewSet(0)
			p := pageOf(rowOf(ocrtest.Word(1, 0, 2)))
			params := config.TrainingParams{FragmentMode: tc.fragment}

			if _, err := resegmenter(t, set, params, nil).Apply(p, entries(t, "i 0 0 22 20 0")); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := labels(p); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("labels = %v, want %v", got, tc.want)
			}
			for _, l := range tc.want {
				if set.ID(l) == unichar.Invalid {
					t.Errorf("%q was not added to the character set", l)
				}
			}
		})
	}
}

func TestRebalance(t *testing.T) {
	set, err := unichar.FromStrings(0, "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	targets := make([]int, set.Size())
	targets[set.ID("x")] = 5
	targets[set.ID("y")] = 3

	p := pageOf(rowOf(ocrtest.Word(1, 0, 3)))
	boxes := "x 0 0 10 20 0\nx 12 0 22 20 0\ny 24 0 34 20 0\n"
	params := config.TrainingParams{Rebalance: true}

	sum, err := resegmenter(t, set, params, targets).Apply(p, entries(t, boxes))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sum.Duplicates != 3 || sum.ClassCounts["x"] != 5 {
		t.Errorf("x: duplicates = %d count = %d, want 3 and 5", sum.Duplicates, sum.ClassCounts["x"])
	}
	if len(sum.CloneIDs) != sum.Duplicates {
		t.Errorf("clone ids = %v, want %d entries", sum.CloneIDs, sum.Duplicates)
	}
	if sum.ClassCounts["y"] != 1 || sum.RebalanceFatal != 1 || !reflect.DeepEqual(sum.FatalClasses, []string{"y"}) {
		t.Errorf("y: count = %d fatal = %d %v", sum.ClassCounts["y"], sum.RebalanceFatal, sum.FatalClasses)
	}

	blobs := make(map[*page.Blob]bool)
	ids := make(map[int]bool)
	for _, loc := range p.Words() {
		w := loc.Word
		if blobs[w.Blobs[0]] {
			t.Errorf("word %d shares a blob with another word", w.ID)
		}
		if ids[w.ID] {
			t.Errorf("duplicate word id %d", w.ID)
		}
		blobs[w.Blobs[0]] = true
		ids[w.ID] = true
	}
}

func TestApplyCharsetExhaustion(t *testing.T) {
	set, err := unichar.FromStrings(2, "A")
	if err != nil {
		t.Fatal(err)
	}
	p := pageOf(rowOf(ocrtest.Word(1, 0, 2)))
	boxes := "A 0 0 10 20 0\nB 12 0 22 20 0\n"

	sum, err := resegmenter(t, set, config.TrainingParams{}, nil).Apply(p, entries(t, boxes))
	if !apperrors.Is(err, apperrors.ErrorResourceExhaustion) || !apperrors.IsFatal(err) {
		t.Fatalf("err = %v, want resource exhaustion", err)
	}
	if sum == nil || sum.BoxesRead != 2 || sum.BoxesApplied != 1 {
		t.Errorf("summary = %+v", sum)
	}
}
