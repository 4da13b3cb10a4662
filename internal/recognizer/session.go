package recognizer

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/correct"
	"github.com/tesseract-ocr/tesseract-sub021/internal/diacritic"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/fuzzyspace"
	"github.com/tesseract-ocr/tesseract-sub021/internal/langretry"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/reject"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// session is the state of one Recognize call. Nothing in it outlives the
// call, so concurrent pages never share a most recently used language.
type session struct {
	id       string
	page     *page.Page
	langs    ocr.Languages
	params   *config.Params
	log      *logging.Logger
	monitor  ocr.Monitor
	selector *langretry.Selector

	initial langretry.Strategy
	refine  langretry.Strategy

	adapted []adaptation
	result  *Result
}

// adaptation remembers what the classifier learned from a word.
type adaptation struct {
	word     *page.Word
	text     string
	language string
}

// visitor handles the word at r.Words[i] and returns how many words now
// occupy its slot.
type visitor func(r *page.Row, i int) int

// step is one of the passes that follow pass 2.
type step struct {
	name    string
	enabled bool
	run     func(ctx context.Context) error
}

func newSession(r *Recognizer, p *page.Page, monitor ocr.Monitor) *session {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	id := uuid.NewString()
	return &session{
		id:       id,
		page:     p,
		langs:    r.langs,
		params:   r.params,
		log:      r.log.With("session"),
		monitor:  monitor,
		selector: langretry.New(r.langs, r.params.Selector, r.log.With("langretry")),
		initial:  initialStrategy{params: r.params.Passes},
		refine:   refineStrategy{params: r.params.Passes, selector: r.params.Selector},
		result: &Result{
			PageID:       p.ID,
			SessionID:    id,
			LanguageWins: make(map[string]int),
			FontID:       -1,
		},
	}
}

func (s *session) run(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	s.setupAdaptive()

	if err := s.eachWord(ctx, "pass1", 0, 70, s.visitPass1); err != nil {
		return err
	}
	if s.params.Passes.EnablePass2 {
		s.refineXHeights()
		if err := s.eachWord(ctx, "pass2", 70, 90, s.visitPass2); err != nil {
			return err
		}
	}
	s.monitor.SetProgress(90)

	passes := s.params.Passes
	steps := []step{
		{"diacritics", passes.EnableDiacritics, s.diacritics},
		{"fuzzy-spaces", passes.EnableFuzzySpaces, s.fuzzySpaces},
		{"dictionary", passes.EnableDictionary, s.dictionary},
		{"bigram", passes.EnableBigram, s.bigram},
		{"rejection", true, s.rejection},
		{"fonts", true, s.fonts},
		{"diagnostics", true, s.diagnostics},
	}
	for i, st := range steps {
		if st.enabled {
			if err := st.run(ctx); err != nil {
				return err
			}
			s.log.Debug("Pass complete", "pass", st.name)
		}
		s.monitor.SetProgress(90 + 10*(i+1)/len(steps))
	}

	s.result.Words = s.page.WordCount()
	return nil
}

// prepare sorts and normalises every row before any classification. Rows
// are independent so they are fanned out.
func (s *session) prepare(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Passes.PrepareWorkers)
	for _, b := range s.page.Blocks {
		for _, r := range b.Rows {
			r := r
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				prepareRow(r)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return s.cancel("prepare", 0, s.page.WordCount(), 0, err)
	}
	return nil
}

func prepareRow(r *page.Row) {
	for _, w := range r.Words {
		w.SortBlobs()
		w.RecomputeBox()
		switch {
		case r.XHeight > 0:
			w.XHeight = r.XHeight
		case w.XHeight <= 0:
			h := float64(w.Box.Top) - r.Baseline.At(w.Box.CenterX())
			if h <= 0 {
				h = float64(w.Box.Height())
			}
			w.XHeight = h
		}
	}
	r.SortWords()
	r.ResetLineFlags()
}

// setupAdaptive checkpoints each adaptive classifier before pass 1.
func (s *session) setupAdaptive() {
	for _, lang := range s.langs {
		adapter, ok := lang.Adapter()
		if !ok {
			continue
		}
		if adapter.AdaptiveFull() {
			adapter.SwitchToBackup()
			s.log.Debug("Adaptive classifier full, switched to backup", "language", lang.Code)
		} else {
			adapter.StartBackup()
		}
	}
}

func (s *session) stop(ctx context.Context, done, total int) bool {
	return ctx.Err() != nil || s.monitor.DeadlineExceeded() || s.monitor.Cancel(done, total)
}

// eachWord visits every word once in reading order, tolerating words
// inserted at the cursor, and polls the monitor before each one.
func (s *session) eachWord(ctx context.Context, pass string, from, to int, visit visitor) error {
	total := s.page.WordCount()
	done, before := 0, 0
	for _, b := range s.page.Blocks {
		for _, r := range b.Rows {
			for i := 0; i < len(r.Words); {
				if s.stop(ctx, done, total) {
					return s.cancel(pass, done, total, before+i, ctx.Err())
				}
				i += visit(r, i)
				done++
				s.monitor.SetProgress(from + (to-from)*min(done, total)/max(total, 1))
			}
			before += len(r.Words)
		}
	}
	return nil
}

// cancel gives every word from flat index onward that is not done the
// placeholder result and builds the cancellation error.
func (s *session) cancel(pass string, done, total, index int, cause error) error {
	words := s.page.Words()
	n := 0
	for _, loc := range words[min(index, len(words)):] {
		if loc.Word.Has(page.FlagDone) {
			continue
		}
		loc.Word.SetPlaceholder(s.charsetFor(loc.Word))
		n++
	}
	s.result.Cancelled = true
	s.result.CancelledIn = pass
	s.result.Placeholders += n
	s.result.Words = len(words)
	s.page.Log.Tally("cancelled")
	return apperrors.NewCancellationError(pass, done, total, cause).WithJob(s.page.ID)
}

func (s *session) charsetFor(w *page.Word) *unichar.Set {
	return s.langs.For(w).Charset
}

func (s *session) visitPass1(r *page.Row, i int) int {
	out := s.selector.ClassifyWord(r.Words[i], s.initial)
	n := s.install(r, i, out)
	if out.Skipped {
		return n
	}
	for _, w := range r.Words[i : i+n] {
		s.finishPass1(w)
	}
	return n
}

// finishPass1 marks confident dictionary and number words done and lets
// the classifier adapt to the dictionary ones.
func (s *session) finishPass1(w *page.Word) {
	c := w.BestChoice
	if c == nil || w.Has(page.FlagClassifierFailed) || !w.Has(page.FlagClassifierAccepted) {
		return
	}
	if c.ContainsSpace() || !page.ValidWordPermuter(c.Permuter(), true) {
		return
	}
	w.SetFlag(page.FlagDone, true)

	lang := s.langs.For(w)
	if !s.params.Passes.Adapt || !lang.DictionaryLike(c.Permuter()) {
		return
	}
	adapter, ok := lang.Adapter()
	if !ok {
		return
	}
	adapter.Adapt(w, c)
	s.adapted = append(s.adapted, adaptation{word: w, text: c.String(), language: lang.Code})
	s.result.Adapted++
}

// refineXHeights estimates each row's x-height from the words pass 1
// accepted: the median of their top edge above the baseline.
func (s *session) refineXHeights() {
	for _, b := range s.page.Blocks {
		for _, r := range b.Rows {
			var heights []float64
			for _, w := range r.Words {
				if !w.Has(page.FlagClassifierAccepted) || w.Has(page.FlagClassifierFailed) {
					continue
				}
				if h := float64(w.Box.Top) - r.Baseline.At(w.Box.CenterX()); h > 0 {
					heights = append(heights, h)
				}
			}
			if len(heights) == 0 {
				continue
			}
			slices.Sort(heights)
			mid := len(heights) / 2
			if len(heights)%2 == 0 {
				r.XHeight = (heights[mid-1] + heights[mid]) / 2
			} else {
				r.XHeight = heights[mid]
			}
		}
	}
}

func (s *session) visitPass2(r *page.Row, i int) int {
	w := r.Words[i]
	if !w.Has(page.FlagDone) && r.XHeight > 0 {
		w.XHeight = r.XHeight
	}
	return s.install(r, i, s.selector.ClassifyWord(w, s.refine))
}

// install puts a selector outcome in place of r.Words[i].
func (s *session) install(r *page.Row, i int, out langretry.Outcome) int {
	if out.Skipped {
		return 1
	}
	if out.Language != nil {
		s.result.LanguageWins[out.Language.Code]++
	}
	w := r.Words[i]
	switch len(out.Words) {
	case 0:
		w.SetPlaceholder(s.charsetFor(w))
		return 1
	case 1:
		adopt(w, out.Words[0])
		return 1
	default:
		r.Extract(i, i+1)
		r.Insert(i, out.Words)
		r.ResetLineFlags()
		return len(out.Words)
	}
}

// installDetached is install for words that are not addressed through a
// row, such as fuzzy-space combinations. A split result cannot be placed
// and leaves the placeholder.
func (s *session) installDetached(w *page.Word, out langretry.Outcome) {
	if out.Skipped {
		return
	}
	if len(out.Words) != 1 {
		w.SetPlaceholder(s.charsetFor(w))
		return
	}
	adopt(w, out.Words[0])
}

// adopt copies a result word's recognition state into w, leaving w's
// geometry alone.
func adopt(w, r *page.Word) {
	if w == r {
		return
	}
	w.Choices = r.Choices
	w.BestChoice = r.BestChoice
	w.RejectMap = r.RejectMap
	w.Language = r.Language
	w.XHeight = r.XHeight
	w.SetFlag(page.FlagClassifierFailed, r.Has(page.FlagClassifierFailed))
	w.SetFlag(page.FlagClassifierAccepted, r.Has(page.FlagClassifierAccepted))
	if c := r.BestChoice; c != nil && c.FontID() >= 0 {
		w.FontID = c.FontID()
		w.FontConfidence = c.FontScore()
	}
}

func (s *session) diacritics(ctx context.Context) error {
	engine := diacritic.New(s.params.Diacritics, s.log.With("diacritics"))
	for _, loc := range s.page.Words() {
		w := loc.Word
		if w.Has(page.FlagDone) || len(w.NoiseOutlines) == 0 {
			continue
		}
		res := engine.Reassign(w, s.langs.For(w))
		s.result.DiacriticsAttached += res.Attached
		s.result.DiacriticsPromoted += res.Promoted
		if !res.Changed() {
			continue
		}
		if i := slices.Index(loc.Row.Words, w); i >= 0 {
			s.install(loc.Row, i, s.selector.ClassifyWord(w, s.initial))
		}
	}
	return nil
}

func (s *session) fuzzySpaces(ctx context.Context) error {
	classify := func(w *page.Word) {
		s.installDetached(w, s.selector.ClassifyWord(w, s.initial))
	}
	res := fuzzyspace.New(classify, s.log.With("fuzzy")).Resolve(s.page)
	s.result.FuzzyRuns = res.Runs
	s.result.FuzzyImproved = res.Improved
	return nil
}

func (s *session) dictionary(ctx context.Context) error {
	c := correct.New(s.langs, s.params.Passes, s.log.With("dictionary"))
	s.result.DictionaryCorrections = c.Dictionary(s.page)
	return nil
}

func (s *session) bigram(ctx context.Context) error {
	c := correct.New(s.langs, s.params.Passes, s.log.With("bigram"))
	s.result.BigramCorrections = c.Bigram(s.page)
	return nil
}

func (s *session) rejection(ctx context.Context) error {
	cascade := reject.NewCascade(s.params.Reject, s.log.With("reject"))
	counts, complete := cascade.Run(s.page, func(done, total int) bool {
		return s.stop(ctx, done, total)
	})
	s.result.Reject = counts
	if !complete {
		total := s.page.WordCount()
		return s.cancel("rejection", counts.WordsVisited, total, counts.WordsVisited, ctx.Err())
	}
	s.page.CharCount = counts.Chars
	s.page.RejectCount = counts.Rejects
	s.result.Chars = counts.Chars
	s.result.Rejects = counts.Rejects
	return nil
}

// fonts assigns the document's modal font, weighted by characters, to
// words whose own font vote is missing or weak.
func (s *session) fonts(ctx context.Context) error {
	minConf := s.params.Font.MinConfidence
	words := s.page.Words()
	votes := make(map[int]int)
	for _, loc := range words {
		w := loc.Word
		if w.FontID >= 0 && w.FontConfidence >= minConf {
			votes[w.FontID] += max(len(w.RejectMap), 1)
		}
	}
	modal, best := -1, 0
	for id, n := range votes {
		if n > best || (n == best && id < modal) {
			modal, best = id, n
		}
	}
	s.result.FontID = modal
	if modal < 0 {
		return nil
	}
	for _, loc := range words {
		w := loc.Word
		if w.FontID < 0 || w.FontConfidence < minConf {
			w.FontID = modal
			s.result.FontsAssigned++
		}
	}
	return nil
}

// diagnostics tallies failure reasons and records adapted words whose
// final result changed or was rejected.
func (s *session) diagnostics(ctx context.Context) error {
	present := make(map[*page.Word]bool)
	for _, loc := range s.page.Words() {
		w := loc.Word
		present[w] = true
		if w.Has(page.FlagClassifierFailed) {
			s.result.ClassificationFailures++
			s.page.Log.Tally("classification-failure")
		}
		var reasons page.Reject
		for _, r := range w.RejectMap {
			reasons |= r
		}
		for _, name := range reasons.Reasons() {
			s.page.Log.Tally(name)
		}
	}

	for _, a := range s.adapted {
		var reason, final string
		switch {
		case !present[a.word]:
			reason = "merged"
		case a.word.Text() != a.text:
			reason, final = "changed", a.word.Text()
		case a.word.RejectMap.RejectCount() > 0:
			reason, final = "rejected", a.word.Text()
		default:
			continue
		}
		s.page.Log.Misadaptions = append(s.page.Log.Misadaptions, page.Misadaption{
			WordID:   a.word.ID,
			Language: a.language,
			Adapted:  a.text,
			Final:    final,
			Reason:   reason,
		})
		s.result.Misadaptions++
	}
	return nil
}
