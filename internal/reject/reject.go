// Package reject decides which recognised characters to trust: the per-word
// reject map and the document, block and row quality cascade.
package reject

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Accepted reports whether a classifier result is trusted as it stands.
func Accepted(c *page.WordChoice, dictValid bool, p config.PassParams) bool {
	if c == nil || c.Len() == 0 {
		return false
	}
	if c.Certainty() >= p.AcceptCertainty {
		return true
	}
	return dictValid && c.Certainty() >= p.DictAcceptCertainty
}

// MakeRejectMap rebuilds w's reject map from its best choice and flags.
func MakeRejectMap(w *page.Word, dictValid bool, p config.PassParams) {
	if w.BestChoice == nil {
		w.RejectMap = nil
		return
	}
	c := w.BestChoice
	w.RejectMap = page.NewRejectMap(c.Len())
	if w.Has(page.FlagClassifierFailed) {
		w.RejectMap.RejectAll(page.RejTessFailure)
		return
	}
	accepted := w.Has(page.FlagClassifierAccepted) || dictValid
	for i := range w.RejectMap {
		if c.Unichar(i) == unichar.Space {
			w.RejectMap[i] |= page.RejSpace
		}
		cert := c.CharCertainty(i)
		if cert < p.PoorMatchCertainty {
			w.RejectMap[i] |= page.RejPoorMatch
		}
		if !accepted && cert < p.AcceptCertainty {
			w.RejectMap[i] |= page.RejNotAccepted
		}
	}
}

// Unreject removes every rejection set by the cascade's page-level steps so
// it can be re-run from scratch.
func Unreject(p *page.Page) {
	p.Rejected = false
	for _, loc := range p.Words() {
		loc.Word.RejectMap.Clear(page.LevelReasons)
		loc.Word.SetFlag(page.FlagDoubtfulSpace, false)
	}
}

// Poll is consulted before each word; returning true stops the cascade.
type Poll func(done, total int) bool

// Counts summarises one cascade run.
type Counts struct {
	Chars          int
	Rejects        int
	WordsVisited   int
	WordsRejected  int
	UnlvRejects    int
	DocRejected    bool
	BlocksRejected int
	RowsRejected   int
	DoubtfulSpaces int
	Crunched       int
}

// Cascade applies the word steps, then the level steps and garbage
// crunching. Those decisions only count reasons set outside the page-level
// steps, so re-running it without Unreject reaches the same decisions.
type Cascade struct {
	params config.RejectParams
	log    *logging.Logger
}

// NewCascade builds a cascade
func NewCascade(params config.RejectParams, log *logging.Logger) *Cascade {
	if log == nil {
		log = logging.Discard()
	}
	return &Cascade{params: params, log: log}
}

// Run processes p. When poll stops it, the level steps are skipped and
// Counts.WordsVisited tells the caller where the pass stopped.
func (c *Cascade) Run(p *page.Page, poll Poll) (Counts, bool) {
	var counts Counts
	words := p.Words()
	for i, loc := range words {
		if poll != nil && poll(i, len(words)) {
			counts.WordsVisited = i
			return counts, false
		}
		if c.wordStep(loc.Word, &counts) {
			counts.WordsRejected++
		}
	}
	counts.WordsVisited = len(words)

	c.levels(p, &counts)

	for _, loc := range words {
		counts.Chars += len(loc.Word.RejectMap)
		counts.Rejects += loc.Word.RejectMap.RejectCount()
	}
	c.log.Debug("Rejection cascade complete",
		"chars", counts.Chars,
		"rejects", counts.Rejects,
		"doc_rejected", counts.DocRejected,
		"blocks_rejected", counts.BlocksRejected,
		"rows_rejected", counts.RowsRejected,
		"crunched", counts.Crunched)
	return counts, true
}

// wordStep applies the UNLV substitution and mostly-rejected rules.
func (c *Cascade) wordStep(w *page.Word, counts *Counts) bool {
	if w.BestChoice == nil || len(w.RejectMap) == 0 {
		return false
	}
	if c.params.UnlvSubstitution {
		for i := range w.RejectMap {
			switch w.BestChoice.UnicharString(i) {
			case "~", "^":
				w.RejectMap[i] |= page.RejUnlvSubstitution
				counts.UnlvRejects++
			}
		}
	}
	n := len(w.RejectMap)
	rejected := w.RejectMap.CountExcluding(page.LevelReasons)
	if float64(rejected) >= c.params.WordRejectFraction*float64(n) {
		w.RejectMap.RejectAll(page.RejWordQuality)
		return true
	}
	return false
}

type tally struct {
	chars, rejects, wholeWord int
}

func (t *tally) addWord(w *page.Word) {
	n := len(w.RejectMap)
	r := w.RejectMap.CountExcluding(page.LevelReasons)
	t.chars += n
	t.rejects += r
	if n > 0 && r == n {
		t.wholeWord += n
	}
}

func (t *tally) add(o tally) {
	t.chars += o.chars
	t.rejects += o.rejects
	t.wholeWord += o.wholeWord
}

func (t tally) percent() float64 {
	if t.chars == 0 {
		return 0
	}
	return float64(t.rejects) * 100 / float64(t.chars)
}

func (c *Cascade) levels(p *page.Page, counts *Counts) {
	rowTallies := make(map[*page.Row]tally)
	blockTallies := make(map[*page.Block]tally)
	var pageTally tally
	for _, b := range p.Blocks {
		var bt tally
		for _, r := range b.Rows {
			var rt tally
			for _, w := range r.Words {
				rt.addWord(w)
			}
			rowTallies[r] = rt
			bt.add(rt)
		}
		blockTallies[b] = bt
		pageTally.add(bt)
	}

	if pageTally.chars > 0 && pageTally.percent() > c.params.DocPercent {
		c.log.Warn("Page rejected", "reject_percent", pageTally.percent(), "threshold", c.params.DocPercent)
		p.Rejected = true
		counts.DocRejected = true
		for _, loc := range p.Words() {
			loc.Word.RejectMap.RejectAll(page.RejDocQuality)
		}
	} else {
		p.Rejected = false
		for _, b := range p.Blocks {
			bt := blockTallies[b]
			if bt.chars > 0 && bt.percent() > c.params.BlockPercent {
				counts.BlocksRejected++
				for _, r := range b.Rows {
					counts.DoubtfulSpaces += c.rejectWords(r.Words, page.RejBlockQuality)
				}
				continue
			}
			for _, r := range b.Rows {
				rt := rowTallies[r]
				if rt.chars == 0 || rt.percent() <= c.params.RowPercent {
					continue
				}
				// Rows whose rejects are mostly whole rejected words are
				// already explained at word level.
				if float64(rt.wholeWord)*100/float64(rt.rejects) >= c.params.WholeWordPercent {
					continue
				}
				counts.RowsRejected++
				counts.DoubtfulSpaces += c.rejectWords(r.Words, page.RejRowQuality)
			}
		}
	}

	if c.params.CrunchGarbage {
		counts.Crunched = c.crunch(p)
	}

	p.CharCount, p.RejectCount = 0, 0
	for _, b := range p.Blocks {
		b.CharCount, b.RejectCount = 0, 0
		for _, r := range b.Rows {
			r.CharCount, r.RejectCount = 0, 0
			r.WholeWordRejectCount = rowTallies[r].wholeWord
			for _, w := range r.Words {
				r.CharCount += len(w.RejectMap)
				r.RejectCount += w.RejectMap.RejectCount()
			}
			b.CharCount += r.CharCount
			b.RejectCount += r.RejectCount
		}
		p.CharCount += b.CharCount
		p.RejectCount += b.RejectCount
	}
}

// crunch rejects every character of words graded as noise: terrible words
// always, dodgy words when most of their characters are already rejected.
// Words passed in pass 1 count as dictionary words for the grading.
func (c *Cascade) crunch(p *page.Page) int {
	crunched := 0
	for _, loc := range p.Words() {
		w := loc.Word
		if w.BestChoice == nil || len(w.RejectMap) == 0 {
			continue
		}
		switch GarbageWord(w, w.Has(page.FlagDone), c.params) {
		case GarbageTerrible:
		case GarbageDodgy:
			if 2*w.RejectMap.CountExcluding(page.LevelReasons) <= len(w.RejectMap) {
				continue
			}
		default:
			continue
		}
		w.RejectMap.RejectAll(page.RejCrunch)
		crunched++
	}
	return crunched
}

// rejectWords applies a block or row rejection and flags the doubtful
// spaces between consecutive fully rejected words.
func (c *Cascade) rejectWords(words []*page.Word, reason page.Reject) int {
	doubtful := 0
	prevRejected := false
	for _, w := range words {
		if !c.preserve(w) {
			w.RejectMap.RejectAll(reason)
		}
		rejected := len(w.RejectMap) > 0 && w.RejectMap.AcceptCount() == 0
		if rejected && prevRejected {
			w.SetFlag(page.FlagDoubtfulSpace, true)
			doubtful++
		}
		prevRejected = rejected
	}
	return doubtful
}

func (c *Cascade) preserve(w *page.Word) bool {
	if w.BestChoice == nil {
		return false
	}
	own := w.RejectMap.CountExcluding(page.LevelReasons)
	if c.params.PreservePerfectWords && own == 0 {
		return true
	}
	if c.params.PreserveDictWords && own < len(w.RejectMap) &&
		page.ValidWordPermuter(w.BestChoice.Permuter(), false) &&
		AcceptableWord(w.BestChoice) != Unacceptable {
		return true
	}
	return false
}
