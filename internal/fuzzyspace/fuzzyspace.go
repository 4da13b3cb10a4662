// Package fuzzyspace resolves uncertain inter-word gaps by trying
// progressively joined segmentations of a run of words and keeping the one
// whose words the classifier and dictionary confirm best.
package fuzzyspace

import (
	"math"
	"slices"
	"strings"

	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// PerfectScore is returned when every word of a permutation is confirmed.
const PerfectScore = 999

// conflictSet holds the glyphs that are routinely confused with each other.
const conflictSet = "1Il"

const numericPunct = ".,"

// Classify recomputes a word's results in place.
type Classify func(w *page.Word)

// Outcome is the result of searching one run.
type Outcome struct {
	Words   []*page.Word
	Initial int
	Score   int
	Steps   int
}

// Improved reports whether a joined permutation beat the original.
func (o Outcome) Improved() bool { return o.Score > o.Initial }

// Result aggregates a page.
type Result struct {
	Runs     int
	Improved int
	Steps    int
}

// Searcher runs the spacing search with a caller-supplied classifier.
type Searcher struct {
	classify Classify
	log      *logging.Logger
}

// New creates a searcher.
func New(classify Classify, log *logging.Logger) *Searcher {
	if log == nil {
		log = logging.Discard()
	}
	return &Searcher{classify: classify, log: log}
}

// Resolve searches every fuzzy run on the page.
func (s *Searcher) Resolve(p *page.Page) Result {
	var total Result
	for _, b := range p.Blocks {
		for _, r := range b.Rows {
			res := s.ResolveRow(r)
			total.Runs += res.Runs
			total.Improved += res.Improved
			total.Steps += res.Steps
		}
	}
	return total
}

// ResolveRow searches the fuzzy runs of one row and puts the best
// permutation of each back in place.
func (s *Searcher) ResolveRow(r *page.Row) Result {
	var res Result
	for i := 0; i < len(r.Words); {
		j := runEnd(r.Words, i)
		if j-i < 2 {
			i = j
			continue
		}
		words := r.Extract(i, j)
		out := s.Search(words)
		final := finalize(out.Words)
		r.Insert(i, final)

		res.Runs++
		res.Steps += out.Steps
		if out.Improved() {
			res.Improved++
			s.log.Debug("Fuzzy spaces resolved",
				"words_before", len(words),
				"words_after", len(final),
				"initial_score", out.Initial,
				"score", out.Score)
		}
		i += len(final)
	}
	if res.Runs > 0 {
		r.ResetLineFlags()
	}
	return res
}

// runEnd returns the end of the run starting at i: every following word
// whose leading gap is fuzzy joins it.
func runEnd(words []*page.Word, i int) int {
	j := i + 1
	for j < len(words) && (words[j].Has(page.FlagFuzzySpace) || words[j].Has(page.FlagFuzzyNonSpace)) {
		j++
	}
	return j
}

// Search explores the run's permutations. The returned score is never below
// the initial one, and at most len(words)-1 gaps are closed.
func (s *Searcher) Search(words []*page.Word) Outcome {
	initial := Score(words)
	out := Outcome{Words: words, Initial: initial, Score: initial}

	current := cloneAll(words)
	for out.Score != PerfectScore {
		next, ok := closeSmallestGap(current)
		if !ok {
			break
		}
		current = next
		out.Steps++
		for _, w := range current {
			if !w.Has(page.FlagPartOfCombo) && !w.Has(page.FlagDone) && w.BestChoice == nil {
				s.classify(w)
			}
		}
		if score := Score(current); score > out.Score {
			out.Words = cloneAll(current)
			out.Score = score
		}
	}
	return out
}

func cloneAll(words []*page.Word) []*page.Word {
	out := make([]*page.Word, len(words))
	for i, w := range words {
		out[i] = w.CloneOwned()
	}
	return out
}

// closeSmallestGap joins every adjacent pair of active words separated by
// the smallest gap. A new combination word is placed before the first word
// it absorbs, and absorbed words stay in the list flagged as parts.
func closeSmallestGap(words []*page.Word) ([]*page.Word, bool) {
	minGap := math.MaxInt
	havePrev, prevRight := false, 0
	for _, w := range words {
		if w.Has(page.FlagPartOfCombo) {
			continue
		}
		if havePrev {
			minGap = min(minGap, w.Box.Left-prevRight)
		}
		havePrev, prevRight = true, w.Box.Right
	}
	if minGap == math.MaxInt {
		return words, false
	}

	out := make([]*page.Word, 0, len(words)+1)
	prev := -1
	for _, w := range words {
		if w.Has(page.FlagPartOfCombo) {
			out = append(out, w)
			continue
		}
		if prev < 0 || w.Box.Left-prevRight > minGap {
			out = append(out, w)
			prev = len(out) - 1
			prevRight = w.Box.Right
			continue
		}

		target := out[prev]
		if target.Has(page.FlagCombination) {
			page.Combine(target, w)
		} else {
			combo := page.Combine(target, w)
			target.SetFlag(page.FlagPartOfCombo, true)
			out = slices.Insert(out, prev, combo)
		}
		if !w.Has(page.FlagCombination) {
			w.SetFlag(page.FlagPartOfCombo, true)
			out = append(out, w)
		}
		prevRight = w.Box.Right
	}
	return out, true
}

// finalize turns a permutation into ordinary row words.
func finalize(words []*page.Word) []*page.Word {
	var out []*page.Word
	for _, w := range words {
		if w.Has(page.FlagPartOfCombo) {
			continue
		}
		w.SetFlag(page.FlagCombination, false)
		out = append(out, w)
	}
	return out
}

// confirmed words need no further spacing work.
func confirmed(w *page.Word) bool {
	if w.Has(page.FlagDone) || w.Has(page.FlagClassifierAccepted) {
		return true
	}
	return w.BestChoice != nil && page.ValidWordPermuter(w.BestChoice.Permuter(), true)
}

func inConflictSet(s string) bool {
	return len(s) == 1 && strings.Contains(conflictSet, s)
}

func digitOrNumericPunct(c *page.WordChoice, i int) bool {
	if c.Set().IsDigit(c.Unichar(i)) {
		return true
	}
	s := c.UnicharString(i)
	return c.Permuter() == page.PermNumber && len(s) == 1 && strings.Contains(numericPunct, s)
}

// Score rates a permutation: the lengths of confirmed words, except that a
// word is not credited when an ambiguous 1/I/l meets a digit across the gap
// that follows it, plus one for every adjacent 1/I/l pair inside a word.
// PerfectScore is returned when every word is confirmed.
func Score(words []*page.Word) int {
	total := 0
	allConfirmed := true
	seen := false
	prevScore := 0
	prevChar1, prevCharDigit := false, false

	for _, w := range words {
		if w.Has(page.FlagPartOfCombo) {
			continue
		}
		seen = true
		c := w.BestChoice
		if w.Has(page.FlagClassifierFailed) || c == nil || c.Len() == 0 {
			allConfirmed = false
			total += prevScore
			prevScore = 0
			prevChar1, prevCharDigit = false, false
			continue
		}

		done := confirmed(w)
		if !done {
			allConfirmed = false
		}

		first := c.UnicharString(0)
		blocked := (prevChar1 && digitOrNumericPunct(c, 0)) ||
			(prevCharDigit && ((done && first == "1") || (!done && inConflictSet(first))))
		okSoFar := false
		if !blocked {
			total += prevScore
			okSoFar = done
		}
		if okSoFar {
			prevScore = c.Len()
		} else {
			prevScore = 0
		}

		for i := 1; i < c.Len(); i++ {
			if inConflictSet(c.UnicharString(i-1)) && inConflictSet(c.UnicharString(i)) {
				total++
			}
		}

		last := c.Len() - 1
		prevCharDigit = digitOrNumericPunct(c, last)
		lastStr := c.UnicharString(last)
		prevChar1 = (done && lastStr == "1") || (!done && inConflictSet(lastStr))
	}
	total += prevScore

	if seen && allConfirmed {
		return PerfectScore
	}
	return total
}
