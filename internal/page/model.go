// Package page is the Page→Block→Row→Word tree that every recognition pass
// reads and mutates.
package page

import (
	"sort"
	"strings"

	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Outline is one connected component.
type Outline struct {
	ID  int `json:"id"`
	Box Box `json:"box"`
}

func (o *Outline) clone() *Outline {
	cp := *o
	return &cp
}

// Blob is a group of outlines classified as one character.
type Blob struct {
	Outlines []*Outline
}

// NewBlob groups outlines into a blob.
func NewBlob(outlines ...*Outline) *Blob {
	return &Blob{Outlines: append([]*Outline(nil), outlines...)}
}

// Box returns the union of the outline boxes.
func (b *Blob) Box() Box {
	box := EmptyBox()
	for _, o := range b.Outlines {
		box = box.Union(o.Box)
	}
	return box
}

// Clone deep-copies the blob and its outlines.
func (b *Blob) Clone() *Blob {
	cp := &Blob{Outlines: make([]*Outline, len(b.Outlines))}
	for i, o := range b.Outlines {
		cp.Outlines[i] = o.clone()
	}
	return cp
}

// WordFlags is the set of per-word state bits.
type WordFlags uint32

const (
	FlagDone WordFlags = 1 << iota
	FlagFuzzySpace
	FlagFuzzyNonSpace
	FlagBOL
	FlagEOL
	FlagPartOfCombo
	FlagCombination
	FlagClassifierFailed
	FlagClassifierAccepted
	FlagRepeatedChar
	FlagDoubtfulSpace
	FlagCorrupted
)

// Word is the central mutable unit of recognition.
type Word struct {
	ID            int
	Box           Box
	Blobs         []*Blob
	NoiseOutlines []*Outline

	// Choices is ranked best first; BestChoice points at one of them.
	Choices    []*WordChoice
	BestChoice *WordChoice
	RejectMap  RejectMap

	Flags          WordFlags
	Language       string
	FontID         int
	FontConfidence float32
	XHeight        float64
	BlanksBefore   int

	// Label is the ground-truth unichar assigned by training.
	Label string
}

// NewWord builds an unlabeled word from blobs.
func NewWord(id int, blobs ...*Blob) *Word {
	w := &Word{ID: id, Blobs: blobs, FontID: -1}
	w.RecomputeBox()
	return w
}

func (w *Word) Has(f WordFlags) bool { return w.Flags&f != 0 }

// SetFlag turns f on or off.
func (w *Word) SetFlag(f WordFlags, on bool) {
	if on {
		w.Flags |= f
	} else {
		w.Flags &^= f
	}
}

// RecomputeBox resets Box to the union of the blobs, leaving it unchanged
// for blob-less words.
func (w *Word) RecomputeBox() {
	if len(w.Blobs) == 0 {
		return
	}
	box := EmptyBox()
	for _, b := range w.Blobs {
		box = box.Union(b.Box())
	}
	w.Box = box
}

// SortBlobs orders blobs left to right.
func (w *Word) SortBlobs() {
	sort.SliceStable(w.Blobs, func(i, j int) bool {
		return w.Blobs[i].Box().Left < w.Blobs[j].Box().Left
	})
}

// OutlineCount counts outlines across all blobs.
func (w *Word) OutlineCount() int {
	n := 0
	for _, b := range w.Blobs {
		n += len(b.Outlines)
	}
	return n
}

// SetChoices installs a ranked result list; the top choice becomes best and
// the reject map is reset to match it.
func (w *Word) SetChoices(choices []*WordChoice) {
	w.Choices = choices
	if len(choices) == 0 {
		w.BestChoice = nil
		w.RejectMap = nil
		return
	}
	w.ReplaceBestChoice(choices[0])
}

// ReplaceBestChoice points BestChoice at c, adding it to Choices if absent,
// and resizes the reject map.
func (w *Word) ReplaceBestChoice(c *WordChoice) {
	found := false
	for _, existing := range w.Choices {
		if existing == c {
			found = true
			break
		}
	}
	if !found {
		w.Choices = append(w.Choices, c)
	}
	w.BestChoice = c
	w.RejectMap = NewRejectMap(c.Len())
}

const (
	PlaceholderRating    float32 = 10.0
	PlaceholderCertainty float32 = -20.0
)

// SetPlaceholder installs the deterministic result for words that could not
// be classified: one unknown unichar per blob, every character rejected.
func (w *Word) SetPlaceholder(set *unichar.Set) {
	n := max(len(w.Blobs), 1)
	ids := make([]unichar.ID, n)
	c := NewWordChoice(set, ids, PlaceholderRating*float32(n), PlaceholderCertainty)
	w.SetChoices([]*WordChoice{c})
	w.RejectMap.RejectAll(RejTessFailure)
	w.SetFlag(FlagClassifierFailed, true)
	w.SetFlag(FlagClassifierAccepted, false)
	w.SetFlag(FlagDone, false)
}

// Text returns the best choice string, or "" when unclassified.
func (w *Word) Text() string {
	if w.BestChoice == nil {
		return ""
	}
	return w.BestChoice.String()
}

// Labeled reports whether training assigned a ground-truth label.
func (w *Word) Labeled() bool { return w.Label != "" }

// CloneOwned deep-copies the word including its geometry.
func (w *Word) CloneOwned() *Word {
	cp := w.CloneAliased()
	for i, b := range w.Blobs {
		cp.Blobs[i] = b.Clone()
	}
	for i, o := range w.NoiseOutlines {
		cp.NoiseOutlines[i] = o.clone()
	}
	return cp
}

// CloneAliased copies the word's own state but shares Blob and Outline
// pointers with the original. Callers must not mutate the shared geometry.
func (w *Word) CloneAliased() *Word {
	cp := *w
	cp.Blobs = append([]*Blob(nil), w.Blobs...)
	cp.NoiseOutlines = append([]*Outline(nil), w.NoiseOutlines...)
	cp.Choices = append([]*WordChoice(nil), w.Choices...)
	cp.RejectMap = w.RejectMap.Clone()
	return &cp
}

// Combine builds a combination word from owned copies of a and b. When a is
// already a combination word, b's geometry is appended to it instead.
func Combine(a, b *Word) *Word {
	var combo *Word
	if a.Has(FlagCombination) {
		combo = a
	} else {
		combo = a.CloneOwned()
		combo.SetFlag(FlagCombination, true)
		combo.SetFlag(FlagPartOfCombo, false)
	}
	for _, blob := range b.Blobs {
		combo.Blobs = append(combo.Blobs, blob.Clone())
	}
	for _, o := range b.NoiseOutlines {
		combo.NoiseOutlines = append(combo.NoiseOutlines, o.clone())
	}
	combo.Box = combo.Box.Union(b.Box)
	combo.SetFlag(FlagEOL, b.Has(FlagEOL))
	combo.SetFlag(FlagDone, false)
	combo.SetFlag(FlagClassifierAccepted, false)
	combo.SetFlag(FlagClassifierFailed, false)
	combo.Choices = nil
	combo.BestChoice = nil
	combo.RejectMap = nil
	return combo
}

// Row is a baseline-aligned line of words ordered by x.
type Row struct {
	Words    []*Word
	Baseline Baseline
	XHeight  float64

	CharCount            int
	RejectCount          int
	WholeWordRejectCount int
}

// Box returns the union of the word boxes.
func (r *Row) Box() Box {
	box := EmptyBox()
	for _, w := range r.Words {
		box = box.Union(w.Box)
	}
	return box
}

// Extract removes words[i:j] from the row and returns them.
func (r *Row) Extract(i, j int) []*Word {
	out := append([]*Word(nil), r.Words[i:j]...)
	r.Words = append(r.Words[:i:i], r.Words[j:]...)
	return out
}

// Insert places words before index i.
func (r *Row) Insert(i int, words []*Word) {
	rest := append([]*Word(nil), r.Words[i:]...)
	r.Words = append(append(r.Words[:i:i], words...), rest...)
}

// SortWords orders words left to right, stable for equal lefts.
func (r *Row) SortWords() {
	sort.SliceStable(r.Words, func(i, j int) bool {
		return r.Words[i].Box.Left < r.Words[j].Box.Left
	})
}

// ResetLineFlags marks the first and last non-combination words as
// beginning and end of line and clears the flags elsewhere.
func (r *Row) ResetLineFlags() {
	first, last := -1, -1
	for i, w := range r.Words {
		w.SetFlag(FlagBOL, false)
		w.SetFlag(FlagEOL, false)
		if w.Has(FlagCombination) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first >= 0 {
		r.Words[first].SetFlag(FlagBOL, true)
		r.Words[last].SetFlag(FlagEOL, true)
	}
}

// Block is a page region of rows.
type Block struct {
	Rows        []*Row
	CharCount   int
	RejectCount int
}

// Misadaption records a word the classifier adapted to whose final result
// changed or was rejected.
type Misadaption struct {
	WordID   int    `json:"word_id"`
	Language string `json:"language"`
	Adapted  string `json:"adapted"`
	Final    string `json:"final"`
	Reason   string `json:"reason"`
}

// Diagnostics is the page's diagnostic log.
type Diagnostics struct {
	Misadaptions []Misadaption `json:"misadaptions,omitempty"`
	Failures     map[string]int `json:"failures,omitempty"`
}

// Tally increments a failure-reason counter.
func (d *Diagnostics) Tally(reason string) {
	if d.Failures == nil {
		d.Failures = make(map[string]int)
	}
	d.Failures[reason]++
}

// Page is the root of one recognised image.
type Page struct {
	ID     string
	Width  int
	Height int
	Blocks []*Block

	CharCount   int
	RejectCount int
	Rejected    bool
	Log         Diagnostics
}

// Located is a word with its containers.
type Located struct {
	Block *Block
	Row   *Row
	Word  *Word
}

// Words returns a snapshot of every word in reading order.
func (p *Page) Words() []Located {
	var out []Located
	for _, b := range p.Blocks {
		for _, r := range b.Rows {
			for _, w := range r.Words {
				out = append(out, Located{Block: b, Row: r, Word: w})
			}
		}
	}
	return out
}

// WordCount counts words without building a snapshot.
func (p *Page) WordCount() int {
	n := 0
	for _, b := range p.Blocks {
		for _, r := range b.Rows {
			n += len(r.Words)
		}
	}
	return n
}

// Text renders best choices, one row per line and one space between words.
func (p *Page) Text() string {
	var b strings.Builder
	for _, blk := range p.Blocks {
		for _, r := range blk.Rows {
			for i, w := range r.Words {
				if i > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(w.Text())
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
