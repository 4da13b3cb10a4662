package recognizer

import (
	"context"
	"errors"
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr/ocrtest"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

var charset = ocrtest.Charset()

// reading is what the fake classifier returns for one word id.
type reading struct {
	text string
	cert float32
	font int
}

func classifier(readings map[int]reading) *ocrtest.AdaptiveClassifier {
	c := &ocrtest.AdaptiveClassifier{}
	c.WordFn = func(w *page.Word, lang *ocr.Language) ([]*page.WordChoice, error) {
		r, ok := readings[w.ID]
		if !ok || r.text == "" {
			return nil, errors.New("unreadable")
		}
		choice := ocrtest.Choice(lang.Charset, r.text, 1, r.cert)
		if r.font > 0 {
			choice = choice.WithFont(r.font, 0.9)
		}
		return []*page.WordChoice{choice}, nil
	}
	return c
}

func lang(code string, cls ocr.Classifier, dict ...string) *ocr.Language {
	return &ocr.Language{
		Code:       code,
		Charset:    charset,
		Classifier: cls,
		Dictionary: ocrtest.NewDictionary(dict...),
	}
}

// wordsFor builds one word per reading, ids from 1, each as many blobs as
// its text has characters.
func wordsFor(readings map[int]reading) []*page.Word {
	words := make([]*page.Word, len(readings))
	for i := range words {
		id := i + 1
		words[i] = ocrtest.Word(id, id*100, max(len(readings[id].text), 1))
	}
	return words
}

func onePage(words ...*page.Word) *page.Page {
	r := &page.Row{Words: words}
	return &page.Page{ID: "page-1", Blocks: []*page.Block{{Rows: []*page.Row{r}}}}
}

func newRecognizer(t *testing.T, langs ...*ocr.Language) *Recognizer {
	t.Helper()
	r, err := NewRecognizer(&Config{Languages: langs, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	return r
}

func checkLengths(t *testing.T, p *page.Page) {
	t.Helper()
	for _, loc := range p.Words() {
		w := loc.Word
		if w.BestChoice == nil || len(w.RejectMap) != w.BestChoice.Len() {
			t.Errorf("word %d: reject map and best choice disagree", w.ID)
		}
	}
}

func TestNewRecognizerValidation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config"},
		{name: "no languages", cfg: &Config{}},
		{name: "language without classifier", cfg: &Config{Languages: ocr.Languages{{Code: "eng", Charset: charset}}}},
		{name: "invalid params", cfg: &Config{
			Languages: ocr.Languages{lang("eng", &ocrtest.Classifier{})},
			Params:    &config.Params{},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRecognizer(tc.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRecognizeFullRun(t *testing.T) {
	readings := map[int]reading{
		1: {text: "hello", cert: -1},
		2: {text: "world", cert: -1},
		3: {text: "xq", cert: -1},
	}
	cls := classifier(readings)
	cls.Full = true
	eng := lang("eng", cls, "hello", "world")
	p := onePage(wordsFor(readings)...)
	mon := &ocrtest.Monitor{}

	res, err := newRecognizer(t, eng).Recognize(context.Background(), p, mon)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Cancelled || res.Words != 3 || res.Chars != 12 || res.Rejects != 0 {
		t.Errorf("result = %+v", res)
	}
	if got := p.Text(); got != "hello world xq\n\n" {
		t.Errorf("text = %q", got)
	}

	words := p.Blocks[0].Rows[0].Words
	if !words[0].Has(page.FlagDone) || !words[1].Has(page.FlagDone) || words[2].Has(page.FlagDone) {
		t.Error("only dictionary words should be done after pass 1")
	}
	if cls.Switched != 1 || cls.Started != 0 {
		t.Errorf("switched = %d started = %d, want a switch to backup", cls.Switched, cls.Started)
	}
	if len(cls.Adapted) != 2 || res.Adapted != 2 {
		t.Errorf("adapted = %v", cls.Adapted)
	}
	checkLengths(t, p)

	if len(mon.Progress) == 0 || mon.Progress[len(mon.Progress)-1] != 100 {
		t.Fatalf("progress = %v, want to end at 100", mon.Progress)
	}
	for i := 1; i < len(mon.Progress); i++ {
		if mon.Progress[i] < mon.Progress[i-1] {
			t.Fatalf("progress went backwards: %v", mon.Progress)
		}
	}
}

func TestRecognizeFallsBackToSecondaryLanguage(t *testing.T) {
	eng := lang("eng", &ocrtest.Classifier{})
	deu := lang("deu", classifier(map[int]reading{1: {text: "hallo", cert: -1}}), "hallo")
	w := ocrtest.Word(1, 0, 5)
	p := onePage(w)

	res, err := newRecognizer(t, eng, deu).Recognize(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if w.Language != "deu" || w.Text() != "hallo" {
		t.Errorf("word = %q in %q, want hallo in deu", w.Text(), w.Language)
	}
	if res.ClassificationFailures != 0 || res.LanguageWins["deu"] == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRecognizeCancelledInPass1(t *testing.T) {
	readings := map[int]reading{
		1: {text: "abc", cert: -1},
		2: {text: "abd", cert: -1},
		3: {text: "abe", cert: -1},
	}
	eng := lang("eng", classifier(readings))
	p := onePage(wordsFor(readings)...)
	mon := &ocrtest.Monitor{CancelAt: 2}

	res, err := newRecognizer(t, eng).Recognize(context.Background(), p, mon)
	if !apperrors.Is(err, apperrors.ErrorCancellation) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if !res.Cancelled || res.CancelledIn != "pass1" || res.Placeholders != 1 {
		t.Errorf("result = %+v", res)
	}

	words := p.Blocks[0].Rows[0].Words
	if words[0].Text() != "abc" || words[1].Text() != "abd" {
		t.Error("words finished before the cancel were changed")
	}
	last := words[2]
	if !last.Has(page.FlagClassifierFailed) || last.RejectMap.RejectCount() != 3 {
		t.Errorf("untouched word did not get the placeholder: %+v", last.RejectMap)
	}
	if last.BestChoice.Certainty() != page.PlaceholderCertainty {
		t.Errorf("placeholder certainty = %v", last.BestChoice.Certainty())
	}
	checkLengths(t, p)
}

// tripAfter cancels once it has been polled more than n times.
type tripAfter struct {
	ocrtest.Monitor
	n     int
	polls int
}

func (m *tripAfter) Cancel(done, total int) bool {
	m.polls++
	return m.polls > m.n
}

func TestRecognizeCancelledInPass2KeepsDoneWords(t *testing.T) {
	readings := map[int]reading{
		1: {text: "hello", cert: -1},
		2: {text: "abc", cert: -1},
		3: {text: "abd", cert: -1},
	}
	eng := lang("eng", classifier(readings), "hello")
	p := onePage(wordsFor(readings)...)

	res, err := newRecognizer(t, eng).Recognize(context.Background(), p, &tripAfter{n: 3})
	if !apperrors.Is(err, apperrors.ErrorCancellation) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if res.CancelledIn != "pass2" || res.Placeholders != 2 {
		t.Errorf("result = %+v", res)
	}
	words := p.Blocks[0].Rows[0].Words
	if words[0].Text() != "hello" || words[0].Has(page.FlagClassifierFailed) {
		t.Error("done word was rolled back")
	}
	for _, w := range words[1:] {
		if !w.Has(page.FlagClassifierFailed) {
			t.Errorf("word %d kept a result after cancellation", w.ID)
		}
	}
}

func TestRecognizeCancelledByContext(t *testing.T) {
	readings := map[int]reading{1: {text: "abc", cert: -1}}
	eng := lang("eng", classifier(readings))
	p := onePage(wordsFor(readings)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newRecognizer(t, eng).Recognize(ctx, p, &ocrtest.Monitor{})
	if !apperrors.Is(err, apperrors.ErrorCancellation) || !res.Cancelled {
		t.Fatalf("err = %v cancelled = %v", err, res.Cancelled)
	}
	checkLengths(t, p)
}

func TestRecognizeRecordsMisadaption(t *testing.T) {
	// One adapted dictionary word drowned by garbage, so the whole
	// document is rejected and the adaptation was a mistake.
	readings := map[int]reading{
		1: {text: "hello", cert: -1},
		2: {text: "zzq", cert: -9},
		3: {text: "qzz", cert: -9},
		4: {text: "zqz", cert: -9},
		5: {text: "qqz", cert: -9},
	}
	cls := classifier(readings)
	eng := lang("eng", cls, "hello")
	p := onePage(wordsFor(readings)...)

	res, err := newRecognizer(t, eng).Recognize(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !p.Rejected || !res.Reject.DocRejected {
		t.Fatal("document should be rejected")
	}
	if res.Misadaptions != 1 || len(p.Log.Misadaptions) != 1 {
		t.Fatalf("misadaptions = %+v", p.Log.Misadaptions)
	}
	m := p.Log.Misadaptions[0]
	if m.WordID != 1 || m.Reason != "rejected" || m.Adapted != "hello" {
		t.Errorf("misadaption = %+v", m)
	}
	if p.Log.Failures["doc-quality"] == 0 {
		t.Errorf("failures = %v", p.Log.Failures)
	}
	checkLengths(t, p)
}

func TestRecognizeAssignsModalFont(t *testing.T) {
	readings := map[int]reading{
		1: {text: "abc", cert: -1, font: 3},
		2: {text: "abd", cert: -1, font: 3},
		3: {text: "abe", cert: -1},
	}
	eng := lang("eng", classifier(readings))
	p := onePage(wordsFor(readings)...)

	res, err := newRecognizer(t, eng).Recognize(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.FontID != 3 || res.FontsAssigned != 1 {
		t.Errorf("font = %d assigned = %d", res.FontID, res.FontsAssigned)
	}
	for _, w := range p.Blocks[0].Rows[0].Words {
		if w.FontID != 3 {
			t.Errorf("word %d font = %d", w.ID, w.FontID)
		}
	}
}

func TestRecognizePreparesRowOrder(t *testing.T) {
	readings := map[int]reading{
		1: {text: "ab", cert: -1},
		2: {text: "cd", cert: -1},
	}
	eng := lang("eng", classifier(readings))
	words := wordsFor(readings)
	p := onePage(words[1], words[0])

	if _, err := newRecognizer(t, eng).Recognize(context.Background(), p, nil); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	row := p.Blocks[0].Rows[0]
	if row.Words[0].ID != 1 || !row.Words[0].Has(page.FlagBOL) || !row.Words[1].Has(page.FlagEOL) {
		t.Errorf("row not sorted: %d %d", row.Words[0].ID, row.Words[1].ID)
	}
}
