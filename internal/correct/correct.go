// Package correct swaps in dictionary-valid alternates for single words and
// for adjacent word pairs.
package correct

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/reject"
)

// Corrector applies both correction passes.
type Corrector struct {
	langs  ocr.Languages
	params config.PassParams
	log    *logging.Logger
	fold   cases.Caser
}

// New creates a corrector over the session's languages.
func New(langs ocr.Languages, params config.PassParams, log *logging.Logger) *Corrector {
	if log == nil {
		log = logging.Discard()
	}
	return &Corrector{langs: langs, params: params, log: log, fold: cases.Fold()}
}

// Dictionary replaces an invalid best choice with the first valid alternate
// in rank order. It returns the number of words changed.
func (c *Corrector) Dictionary(p *page.Page) int {
	changed := 0
	for _, loc := range p.Words() {
		w := loc.Word
		if w.Has(page.FlagDone) || w.BestChoice == nil || len(w.Choices) < 2 {
			continue
		}
		lang := c.langs.For(w)
		if lang == nil || lang.ValidWord(w.BestChoice) {
			continue
		}
		for _, alt := range w.Choices {
			if alt == w.BestChoice || !lang.ValidWord(alt) {
				continue
			}
			c.log.Debug("Dictionary correction", "word", w.ID, "from", w.Text(), "to", alt.String())
			c.install(w, alt, lang)
			changed++
			break
		}
	}
	return changed
}

// Bigram fixes adjacent pairs whose best choices do not form a valid bigram
// by choosing the cheapest valid pair from the cross product of their
// choices. It returns the number of pairs changed.
func (c *Corrector) Bigram(p *page.Page) int {
	changed := 0
	for _, b := range p.Blocks {
		for _, r := range b.Rows {
			for i := 1; i < len(r.Words); i++ {
				if c.bigramPair(r.Words[i-1], r.Words[i]) {
					changed++
				}
			}
		}
	}
	return changed
}

func (c *Corrector) bigramPair(prev, w *page.Word) bool {
	if prev.BestChoice == nil || w.BestChoice == nil {
		return false
	}
	if prev.Has(page.FlagDone) || w.Has(page.FlagDone) {
		return false
	}
	if prev.Has(page.FlagRepeatedChar) || w.Has(page.FlagRepeatedChar) {
		return false
	}
	if prev.BestChoice.Set() != w.BestChoice.Set() {
		return false
	}
	lang := c.langs.For(prev)
	if lang == nil || lang.ValidBigram(prev.BestChoice, w.BestChoice) {
		return false
	}

	var best1, best2 *page.WordChoice
	bestRating := float32(0)
	for _, c1 := range prev.Choices {
		for _, c2 := range w.Choices {
			if !lang.ValidBigram(c1, c2) {
				continue
			}
			if rating := c1.Rating() + c2.Rating(); best1 == nil || rating < bestRating {
				best1, best2, bestRating = c1, c2, rating
			}
		}
	}
	if best1 == nil {
		return false
	}
	if c.equivalent(prev.BestChoice, best1) && c.equivalent(w.BestChoice, best2) {
		c.log.Debug("Bigram already good up to case and punctuation", "first", prev.Text(), "second", w.Text())
		return false
	}

	c.log.Debug("Bigram correction",
		"from", prev.Text()+" "+w.Text(),
		"to", best1.String()+" "+best2.String())
	c.install(prev, best1, lang)
	c.install(w, best2, lang)
	return true
}

func (c *Corrector) install(w *page.Word, choice *page.WordChoice, lang *ocr.Language) {
	w.ReplaceBestChoice(choice)
	valid := lang.ValidWord(choice)
	w.SetFlag(page.FlagClassifierAccepted, reject.Accepted(choice, valid, c.params))
	reject.MakeRejectMap(w, valid, c.params)
}

// equivalent compares two choices ignoring case and leading or trailing
// punctuation.
func (c *Corrector) equivalent(a, b *page.WordChoice) bool {
	return c.fold.String(trimPunct(a.String())) == c.fold.String(trimPunct(b.String()))
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, unicode.IsPunct)
}
