// Package ocr defines the collaborators the recognition core consumes: the
// character classifier, the language dictionary and the progress monitor.
package ocr

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Classifier turns word geometry into ranked results.
type Classifier interface {
	// Classify returns choices best first. An empty slice or an error is a
	// classification failure for this word.
	Classify(w *page.Word, lang *Language) ([]*page.WordChoice, error)

	// ClassifyStandalone classifies blob plus extra outlines as one isolated
	// word. blob may be nil when the outlines stand alone.
	ClassifyStandalone(blob *page.Blob, extra []*page.Outline, lang *Language) (string, float32, error)
}

// Adapter is implemented by classifiers that learn from accepted words.
type Adapter interface {
	AdaptiveFull() bool
	SwitchToBackup()
	StartBackup()
	Adapt(w *page.Word, c *page.WordChoice)
}

// Dictionary validates words and word pairs.
type Dictionary interface {
	Valid(c *page.WordChoice) bool
	ValidBigram(a, b *page.WordChoice) bool
	PermuterIsDictionaryLike(p page.Permuter) bool
}

// Monitor is polled once per word.
type Monitor interface {
	DeadlineExceeded() bool
	Cancel(done, total int) bool
	SetProgress(percent int)
}

// Language bundles everything recognition needs for one language.
type Language struct {
	Code       string
	Charset    *unichar.Set
	Classifier Classifier
	Dictionary Dictionary
}

// Adapter returns the classifier's adaptive side, if it has one.
func (l *Language) Adapter() (Adapter, bool) {
	a, ok := l.Classifier.(Adapter)
	return a, ok
}

// ValidWord reports dictionary validity; languages without a dictionary
// accept nothing.
func (l *Language) ValidWord(c *page.WordChoice) bool {
	return c != nil && l.Dictionary != nil && l.Dictionary.Valid(c)
}

// ValidBigram is ValidWord for a pair.
func (l *Language) ValidBigram(a, b *page.WordChoice) bool {
	return a != nil && b != nil && l.Dictionary != nil && l.Dictionary.ValidBigram(a, b)
}

// DictionaryLike reports whether p counts as dictionary endorsement.
func (l *Language) DictionaryLike(p page.Permuter) bool {
	if l.Dictionary == nil {
		return page.ValidWordPermuter(p, false)
	}
	return l.Dictionary.PermuterIsDictionaryLike(p)
}

// Languages is the configured language list, primary first.
type Languages []*Language

// Primary returns the first language, or nil when empty.
func (ls Languages) Primary() *Language {
	if len(ls) == 0 {
		return nil
	}
	return ls[0]
}

// Lookup finds a language by code.
func (ls Languages) Lookup(code string) *Language {
	for _, l := range ls {
		if l.Code == code {
			return l
		}
	}
	return nil
}

// For returns the language a word was recognised in, falling back to the
// primary.
func (ls Languages) For(w *page.Word) *Language {
	if l := ls.Lookup(w.Language); l != nil {
		return l
	}
	return ls.Primary()
}
