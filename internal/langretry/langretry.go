// Package langretry classifies a word in the most promising language first
// and falls back through the configured languages, merging each attempt
// with the best results so far.
package langretry

import (
	"errors"
	"math"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/reject"
)

// Strategy runs one classification attempt of w in lang. It returns the
// result words, which never share mutable state with w beyond read-only
// geometry, and a ClassificationFailure error when the classifier produced
// nothing usable. Failed attempts still return placeholder words.
type Strategy interface {
	Name() string
	Classify(w *page.Word, lang *ocr.Language) ([]*page.Word, error)
}

// Outcome is the merged result for one word.
type Outcome struct {
	Words    []*page.Word
	Language *ocr.Language
	Attempts int
	Failures []error
	// Skipped is set for words that were already done.
	Skipped bool
}

// Selector holds the per-session retry state. It must not be shared
// between pages.
type Selector struct {
	langs  ocr.Languages
	params config.SelectorParams
	log    *logging.Logger
	mru    *ocr.Language
}

// New creates a selector whose most recently used language starts as the
// primary.
func New(langs ocr.Languages, params config.SelectorParams, log *logging.Logger) *Selector {
	if log == nil {
		log = logging.Discard()
	}
	return &Selector{langs: langs, params: params, log: log, mru: langs.Primary()}
}

// MostRecentlyUsed returns the language that won the last word.
func (s *Selector) MostRecentlyUsed() *ocr.Language { return s.mru }

// ClassifyWord runs strategy over the languages until the merged result is
// acceptable: the most recently used language first, then the primary,
// then the secondaries in configured order, never repeating one.
func (s *Selector) ClassifyWord(w *page.Word, strategy Strategy) Outcome {
	if w.Has(page.FlagDone) {
		lang := s.langs.Lookup(w.Language)
		if lang != nil && !w.Has(page.FlagClassifierFailed) {
			s.mru = lang
		}
		return Outcome{Words: []*page.Word{w}, Language: lang, Skipped: true}
	}

	var out Outcome
	var best []*page.Word
	first := s.mru
	if first == nil {
		first = s.langs.Primary()
	}
	if first == nil {
		return out
	}

	bestLang := first
	s.retry(w, first, strategy, &best, &out)
	for _, lang := range s.langs {
		if Acceptable(best) {
			break
		}
		if lang == first {
			continue
		}
		if s.retry(w, lang, strategy, &best, &out) > 0 {
			bestLang = lang
		}
	}

	s.mru = bestLang
	out.Words = best
	out.Language = bestLang
	return out
}

func (s *Selector) retry(w *page.Word, lang *ocr.Language, strategy Strategy, best *[]*page.Word, out *Outcome) int {
	out.Attempts++
	words, err := strategy.Classify(w, lang)
	if err != nil {
		out.Failures = append(out.Failures, err)
		s.log.Debug("Classification attempt failed",
			"word", w.ID,
			"language", lang.Code,
			"strategy", strategy.Name(),
			"error", err)
	}
	for _, r := range words {
		r.Language = lang.Code
	}
	merged, delta := SelectBestWords(*best, words, s.params.RatingRatio, s.params.CertaintyMargin)
	*best = merged
	return delta
}

// Acceptable reports whether every word classified without failure and was
// accepted by the classifier.
func Acceptable(words []*page.Word) bool {
	for _, w := range words {
		if w.Has(page.FlagClassifierFailed) || !w.Has(page.FlagClassifierAccepted) {
			return false
		}
	}
	return true
}

// SelectBestWords merges two segmentations of the same ink. Both are walked
// in step over groups that end where their word breaks coincide, and each
// group is taken from whichever side is better. It returns the merged words
// and the number of new groups used minus the number of old groups kept.
func SelectBestWords(old, candidates []*page.Word, ratio, margin float32) ([]*page.Word, int) {
	var out []*page.Word
	numOld, numNew := 0, 0
	b, n := 0, 0
	for b < len(old) || n < len(candidates) {
		startB, startN := b, n
		for b < len(old) || n < len(candidates) {
			bRight, bNextLeft := wordGap(old, b)
			nRight, nNextLeft := wordGap(candidates, n)
			if max(bRight, nRight) < min(bNextLeft, nNextLeft) {
				break
			}
			if (bRight < nRight && b < len(old)) || n == len(candidates) {
				b++
			} else {
				n++
			}
		}
		endB := min(b+1, len(old))
		endN := min(n+1, len(candidates))

		oldSpan := evaluate(old[startB:endB])
		newSpan := evaluate(candidates[startN:endN])
		// An unusable old group is still kept over an unusable new one so
		// no ink is dropped.
		if endB == startB || (!newSpan.bad && newSpan.beats(oldSpan, ratio, margin)) {
			out = append(out, candidates[startN:endN]...)
			numNew++
		} else {
			out = append(out, old[startB:endB]...)
			numOld++
		}
		b, n = endB, endN
	}
	return out, numNew - numOld
}

// wordGap returns the right edge of words[i] and the left edge of the word
// after it, with sentinels past either end.
func wordGap(words []*page.Word, i int) (right, nextLeft int) {
	right, nextLeft = math.MinInt, math.MaxInt
	if i < len(words) {
		right = words[i].Box.Right
		if i+1 < len(words) {
			nextLeft = words[i+1].Box.Left
		}
	}
	return right, nextLeft
}

type span struct {
	rating    float32
	certainty float32
	bad       bool
	valid     bool
}

func evaluate(words []*page.Word) span {
	s := span{valid: true}
	if len(words) == 0 {
		s.bad, s.valid = true, false
	}
	for _, w := range words {
		c := w.BestChoice
		if c == nil {
			s.bad = true
			continue
		}
		s.rating += c.Rating()
		s.certainty = min(s.certainty, c.Certainty())
		if !page.ValidWordPermuter(c.Permuter(), false) {
			s.valid = false
		}
	}
	return s
}

func (s span) beats(old span, ratio, margin float32) bool {
	if old.bad {
		return true
	}
	if s.certainty > old.certainty && s.rating < old.rating {
		return true
	}
	return !old.valid && s.valid &&
		s.rating < old.rating*ratio &&
		s.certainty > old.certainty-margin
}

// Attempt is the shared body of the pass strategies: classify w in lang,
// tag dictionary words, decide acceptance and build the reject map. A
// classifier error or empty result yields a placeholder word and a
// ClassificationFailure error.
func Attempt(w *page.Word, lang *ocr.Language, params config.PassParams) ([]*page.Word, error) {
	res := w.CloneAliased()
	res.Language = lang.Code
	res.SetFlag(page.FlagDone, false)

	choices, err := lang.Classifier.Classify(w, lang)
	if err == nil && len(choices) == 0 {
		err = errors.New("classifier returned no choices")
	}
	if err != nil {
		res.SetPlaceholder(lang.Charset)
		return []*page.Word{res}, apperrors.NewClassificationFailureError(w.ID, lang.Code, err)
	}

	tagged := make([]*page.WordChoice, len(choices))
	for i, c := range choices {
		if c.Permuter() == page.PermNone && lang.ValidWord(c) {
			c = c.WithPermuter(page.PermSystemDict)
		}
		tagged[i] = c
	}
	res.SetChoices(tagged)
	res.SetFlag(page.FlagClassifierFailed, false)

	valid := lang.DictionaryLike(res.BestChoice.Permuter()) || lang.ValidWord(res.BestChoice)
	res.SetFlag(page.FlagClassifierAccepted, reject.Accepted(res.BestChoice, valid, params))
	reject.MakeRejectMap(res, valid, params)
	return []*page.Word{res}, nil
}
