/**
 * Recognizer for the OCR core
 *
 * Runs the fixed pass sequence over one segmented page:
 * prepare, pass 1 (classify + adapt), pass 2 (refined x-height),
 * diacritics, fuzzy spaces, dictionary and bigram correction,
 * the rejection cascade, font assignment and diagnostics.
 */

package recognizer

import (
	"context"
	"fmt"
	"time"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/progress"
	"github.com/tesseract-ocr/tesseract-sub021/internal/reject"
)

// RecognizerInterface is what the worker and CLI depend on
type RecognizerInterface interface {
	Recognize(ctx context.Context, p *page.Page, monitor ocr.Monitor) (*Result, error)
}

// Config holds recognizer configuration
type Config struct {
	Languages ocr.Languages
	Params    *config.Params
	Logger    *logging.Logger
}

// Result summarises one recognition run. It is returned even when the run
// was cancelled.
type Result struct {
	PageID    string
	SessionID string
	Cancelled bool
	// CancelledIn names the pass that was stopped.
	CancelledIn string

	Words        int
	Chars        int
	Rejects      int
	Placeholders int

	ClassificationFailures int
	LanguageWins           map[string]int
	Adapted                int

	DiacriticsAttached int
	DiacriticsPromoted int
	FuzzyRuns          int
	FuzzyImproved      int

	DictionaryCorrections int
	BigramCorrections     int

	Reject reject.Counts

	FontID        int
	FontsAssigned int
	Misadaptions  int

	Duration time.Duration
}

// Recognizer runs recognition sessions. It is safe for concurrent use as
// long as each call gets its own page; classifiers with adaptive state
// must not be shared between concurrent calls.
type Recognizer struct {
	langs  ocr.Languages
	params *config.Params
	log    *logging.Logger
}

// NewRecognizer creates a recognizer
func NewRecognizer(cfg *Config) (*Recognizer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
	}
	for _, l := range cfg.Languages {
		if l.Classifier == nil {
			return nil, fmt.Errorf("language %s has no classifier", l.Code)
		}
		if l.Charset == nil {
			return nil, fmt.Errorf("language %s has no character set", l.Code)
		}
	}

	params := cfg.Params
	if params == nil {
		params = config.DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("recognizer")
	}

	return &Recognizer{langs: cfg.Languages, params: params, log: log}, nil
}

// Recognize runs every pass over p. A nil monitor is replaced by one bound
// to ctx. On cancellation the returned Result is still complete for the
// passes that ran, and the error carries the CANCELLATION code.
func (r *Recognizer) Recognize(ctx context.Context, p *page.Page, monitor ocr.Monitor) (*Result, error) {
	if monitor == nil {
		monitor = progress.New(ctx)
	}
	start := time.Now()
	sess := newSession(r, p, monitor)
	sess.log.Info("Recognition started",
		"page", p.ID,
		"words", p.WordCount(),
		"languages", len(r.langs))

	err := sess.run(ctx)
	sess.result.Duration = time.Since(start)

	if err != nil {
		sess.log.Warn("Recognition stopped",
			"page", p.ID,
			"pass", sess.result.CancelledIn,
			"placeholders", sess.result.Placeholders,
			"error", err)
		return sess.result, err
	}

	sess.log.Info("Recognition complete",
		"page", p.ID,
		"words", sess.result.Words,
		"chars", sess.result.Chars,
		"rejects", sess.result.Rejects,
		"failures", sess.result.ClassificationFailures,
		"duration_ms", sess.result.Duration.Milliseconds())
	return sess.result, nil
}
