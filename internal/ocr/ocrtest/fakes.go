// Package ocrtest provides scriptable collaborators for recognition tests.
package ocrtest

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Charset returns a set holding printable ASCII plus any extra unichars.
func Charset(extra ...string) *unichar.Set {
	var all []string
	for r := '!'; r <= '~'; r++ {
		all = append(all, string(r))
	}
	all = append(all, extra...)
	set, err := unichar.FromStrings(unichar.DefaultCapacity, all...)
	if err != nil {
		panic(err)
	}
	return set
}

// Choice builds a choice from text.
func Choice(set *unichar.Set, text string, rating, certainty float32) *page.WordChoice {
	return page.ChoiceFromString(set, text, rating, certainty)
}

// Blob builds a one-outline blob covering [left, left+width) x [0, 20).
func Blob(outlineID, left, width int) *page.Blob {
	return page.NewBlob(&page.Outline{
		ID:  outlineID,
		Box: page.Box{Left: left, Bottom: 0, Right: left + width, Top: 20},
	})
}

// Word builds a word of n blobs, each 10 wide with 2 between, starting at
// left. Outline ids are id*100+i.
func Word(id, left, n int) *page.Word {
	blobs := make([]*page.Blob, n)
	for i := range blobs {
		blobs[i] = Blob(id*100+i, left+i*12, 10)
	}
	return page.NewWord(id, blobs...)
}

// Classifier is a fake whose behaviour is supplied by functions.
type Classifier struct {
	WordFn       func(w *page.Word, lang *ocr.Language) ([]*page.WordChoice, error)
	StandaloneFn func(blob *page.Blob, extra []*page.Outline, lang *ocr.Language) (string, float32, error)

	Calls           int
	StandaloneCalls int
}

func (c *Classifier) Classify(w *page.Word, lang *ocr.Language) ([]*page.WordChoice, error) {
	c.Calls++
	if c.WordFn == nil {
		return nil, nil
	}
	return c.WordFn(w, lang)
}

func (c *Classifier) ClassifyStandalone(blob *page.Blob, extra []*page.Outline, lang *ocr.Language) (string, float32, error) {
	c.StandaloneCalls++
	if c.StandaloneFn == nil {
		return "", -20, nil
	}
	return c.StandaloneFn(blob, extra, lang)
}

// AdaptiveClassifier adds adaptive-state bookkeeping to Classifier.
type AdaptiveClassifier struct {
	Classifier
	Full     bool
	Switched int
	Started  int
	Adapted  []string
}

func (c *AdaptiveClassifier) AdaptiveFull() bool { return c.Full }
func (c *AdaptiveClassifier) SwitchToBackup()    { c.Switched++ }
func (c *AdaptiveClassifier) StartBackup()       { c.Started++ }

func (c *AdaptiveClassifier) Adapt(w *page.Word, choice *page.WordChoice) {
	c.Adapted = append(c.Adapted, choice.String())
}

// Dictionary is an in-memory word and bigram list.
type Dictionary struct {
	Words   map[string]bool
	Bigrams map[[2]string]bool
}

// NewDictionary holds the given words.
func NewDictionary(words ...string) *Dictionary {
	d := &Dictionary{Words: make(map[string]bool), Bigrams: make(map[[2]string]bool)}
	for _, w := range words {
		d.Words[w] = true
	}
	return d
}

// WithBigram registers a valid pair.
func (d *Dictionary) WithBigram(a, b string) *Dictionary {
	d.Bigrams[[2]string{a, b}] = true
	return d
}

func (d *Dictionary) Valid(c *page.WordChoice) bool { return d.Words[c.String()] }

func (d *Dictionary) ValidBigram(a, b *page.WordChoice) bool {
	return d.Bigrams[[2]string{a.String(), b.String()}]
}

func (d *Dictionary) PermuterIsDictionaryLike(p page.Permuter) bool {
	return page.ValidWordPermuter(p, false)
}

// Monitor never trips unless CancelAt is reached.
type Monitor struct {
	// CancelAt trips Cancel once done reaches it; zero disables.
	CancelAt int
	Expired  bool
	Polls    int
	Progress []int
}

func (m *Monitor) DeadlineExceeded() bool { return m.Expired }

func (m *Monitor) Cancel(done, total int) bool {
	m.Polls++
	return m.CancelAt > 0 && done >= m.CancelAt
}

func (m *Monitor) SetProgress(p int) { m.Progress = append(m.Progress, p) }
