/**
 * Page Processor for the OCR worker
 *
 * Orchestrates one job end to end:
 * - recognition: load page + image, build languages, run every pass,
 *   store the run summary and per-word results
 * - training: load page + box file, resegment, rebalance, export samples
 *
 * Storage is optional so the CLI can run the same pipeline offline.
 */

package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tesseract-ocr/tesseract-sub021/internal/boxfile"
	"github.com/tesseract-ocr/tesseract-sub021/internal/classifier"
	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/dictionary"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/progress"
	"github.com/tesseract-ocr/tesseract-sub021/internal/recognizer"
	"github.com/tesseract-ocr/tesseract-sub021/internal/storage"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Job kinds and statuses as stored on the job row
const (
	KindRecognize = "recognize"
	KindResegment = "resegment"

	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

const storeTimeout = 30 * time.Second

// CharsetExtension names unicharset listings: <dir>/<lang>.unicharset
const CharsetExtension = ".unicharset"

// PageProcessorInterface defines the interface for page processing
type PageProcessorInterface interface {
	ProcessPage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	ProcessTraining(ctx context.Context, req *TrainingRequest) (*TrainingResult, error)
	UpdateJobStatus(ctx context.Context, jobID, kind, status string, progress int, metadata map[string]interface{}) error
}

// Store is the persistence the processor needs
type Store interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreRun(ctx context.Context, run *storage.RunSummary, words []storage.WordResult) (int64, error)
	StoreTrainingSamples(ctx context.Context, jobID, pageID string, samples []storage.TrainingSample) ([]string, error)
	VectorSize() int
}

// DictionaryLoader produces a language's word list
type DictionaryLoader interface {
	Load(ctx context.Context, lang string) (*dictionary.WordList, error)
}

// PageClassifier is a classifier bound to one page image
type PageClassifier interface {
	ocr.Classifier
	Close() error
}

// ClassifierFactory builds the classifier for one page image
type ClassifierFactory func(img image.Image) (PageClassifier, error)

// ProgressFunc observes recognition progress. It is called from inside the
// passes and must not block.
type ProgressFunc func(jobID string, percent int)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Languages []string
	Params    *config.Params

	// Store may be nil, in which case nothing is persisted.
	Store Store
	// Dictionaries may be nil, in which case no language has a dictionary.
	Dictionaries DictionaryLoader
	// Classifiers defaults to a Tesseract classifier per page.
	Classifiers ClassifierFactory

	// CharsetDir holds <lang>.unicharset listings; languages without one
	// use the Latin table.
	CharsetDir      string
	CharsetCapacity int

	TessdataPrefix string
	TempDir        string
	MaxFileSize    int64
	Timeout        time.Duration
	// SampleVectorSize is used when Store is nil.
	SampleVectorSize int

	Progress   ProgressFunc
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// PageProcessor runs recognition and training jobs
type PageProcessor struct {
	config      *ProcessorConfig
	params      *config.Params
	store       Store
	dicts       DictionaryLoader
	classifiers ClassifierFactory
	maxFileSize int64
	httpClient  *http.Client
	log         *logging.Logger
}

// NewPageProcessor creates a new page processor
func NewPageProcessor(cfg *ProcessorConfig) (*PageProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if len(cfg.Languages) == 0 {
		return nil, fmt.Errorf("at least one language is required")
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
		log = logging.NewLogger("processor")
	}

	p := &PageProcessor{
		config:      cfg,
		params:      params,
		store:       cfg.Store,
		dicts:       cfg.Dictionaries,
		classifiers: cfg.Classifiers,
		maxFileSize: cfg.MaxFileSize,
		httpClient:  cfg.HTTPClient,
		log:         log,
	}
	if p.maxFileSize <= 0 {
		p.maxFileSize = defaultMaxFileSize
	}
	if p.classifiers == nil {
		p.classifiers = p.tesseractFactory
	}

	if _, err := gridSide(p.vectorSize()); err != nil {
		return nil, fmt.Errorf("invalid sample vector size: %w", err)
	}

	return p, nil
}

func (p *PageProcessor) tesseractFactory(img image.Image) (PageClassifier, error) {
	return classifier.NewTesseract(&classifier.TesseractConfig{
		Image:          img,
		TessdataPrefix: p.config.TessdataPrefix,
		TempDir:        p.config.TempDir,
		Logger:         p.log.With("tesseract"),
	})
}

func (p *PageProcessor) vectorSize() int {
	if p.store != nil {
		return p.store.VectorSize()
	}
	if p.config.SampleVectorSize > 0 {
		return p.config.SampleVectorSize
	}
	return 64
}

// ProcessPage runs a recognition job. A cancelled or timed-out run still
// returns its result; the error then says why it stopped.
func (p *PageProcessor) ProcessPage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	jobID := req.JobID
	p.log.Info("Starting recognition", "job", jobID)

	pg, err := p.loadPage(ctx, jobID, req.PageID, req.Page)
	if err != nil {
		return nil, err
	}

	imgData, err := p.load(ctx, jobID, "image", req.Image)
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(jobID, imgData)
	if err != nil {
		return nil, err
	}
	if pg.Width == 0 || pg.Height == 0 {
		pg.Width, pg.Height = img.Bounds().Dx(), img.Bounds().Dy()
	}

	cls, err := p.classifiers(img)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	defer func() {
		if err := cls.Close(); err != nil {
			p.log.Warn("Failed to close classifier", "job", jobID, "error", err)
		}
	}()

	codes := req.Languages
	if len(codes) == 0 {
		codes = p.config.Languages
	}
	langs, err := p.buildLanguages(ctx, codes, cls)
	if err != nil {
		return nil, err
	}

	rec, err := recognizer.NewRecognizer(&recognizer.Config{
		Languages: langs,
		Params:    p.params,
		Logger:    p.log.With("recognizer"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}

	opts := []progress.Option{progress.WithProgressFunc(func(percent int) {
		if p.config.Progress != nil {
			p.config.Progress(jobID, percent)
		}
	})}
	if p.config.Timeout > 0 {
		opts = append(opts, progress.WithTimeout(p.config.Timeout))
	}
	monitor := progress.New(ctx, opts...)

	result, recErr := rec.Recognize(ctx, pg, monitor)
	if result == nil {
		return nil, recErr
	}

	out := &ProcessResult{
		PageID: pg.ID,
		Result: result,
		Page:   pg,
		Text:   pg.Text(),
	}

	if p.store != nil {
		// A cancelled run is still stored, so the write must outlive ctx.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		runID, err := p.store.StoreRun(storeCtx, runSummary(jobID, codes, result, out.Text), wordResults(pg))
		if err != nil {
			return out, apperrors.NewStorageFailedError(jobID, err)
		}
		out.RunID = runID
	}
	out.ProcessingTimeMs = time.Since(start).Milliseconds()

	if recErr != nil {
		if monitor.DeadlineExceeded() {
			return out, apperrors.NewProcessingTimeoutError(jobID, p.config.Timeout, recErr)
		}
		return out, recErr
	}

	p.log.Info("Recognition job complete",
		"job", jobID,
		"page", pg.ID,
		"words", result.Words,
		"rejects", result.Rejects,
		"run", out.RunID,
		"ms", out.ProcessingTimeMs)
	return out, nil
}

// ProcessTraining runs a resegmentation job and exports its samples
func (p *PageProcessor) ProcessTraining(ctx context.Context, req *TrainingRequest) (*TrainingResult, error) {
	start := time.Now()
	jobID := req.JobID
	p.log.Info("Starting resegmentation", "job", jobID)

	pg, err := p.loadPage(ctx, jobID, req.PageID, req.Page)
	if err != nil {
		return nil, err
	}

	boxData, err := p.load(ctx, jobID, "box file", req.Boxes)
	if err != nil {
		return nil, err
	}
	read, err := boxfile.Read(bytes.NewReader(boxData), req.BoxPage)
	if err != nil {
		return nil, err
	}
	if read.Malformed > 0 {
		p.log.Warn("Malformed box lines skipped", "job", jobID, "lines", read.Malformed)
	}

	lang := req.Language
	if lang == "" {
		lang = p.config.Languages[0]
	}
	set, err := p.loadCharset(lang)
	if err != nil {
		return nil, err
	}

	targets, err := targetsFor(jobID, set, req.Targets, p.params.Training.DefaultTarget)
	if err != nil {
		return nil, err
	}

	reseg, err := boxfile.NewResegmenter(&boxfile.Config{
		Charset: set,
		Params:  p.params.Training,
		Targets: targets,
		Logger:  p.log.With("boxfile"),
	})
	if err != nil {
		return nil, err
	}

	summary, err := reseg.Apply(pg, read.Entries)
	out := &TrainingResult{PageID: pg.ID, Summary: summary, Page: pg}
	if err != nil {
		return out, err
	}

	samples, err := p.samples(pg, summary)
	if err != nil {
		return out, err
	}
	out.Samples = len(samples)

	if p.store != nil && len(samples) > 0 {
		ids, err := p.store.StoreTrainingSamples(ctx, jobID, pg.ID, samples)
		if err != nil {
			return out, apperrors.NewStorageFailedError(jobID, err)
		}
		out.PointIDs = ids
	}
	out.ProcessingTimeMs = time.Since(start).Milliseconds()

	p.log.Info("Resegmentation job complete",
		"job", jobID,
		"page", pg.ID,
		"boxes", summary.BoxesRead,
		"failures", summary.BoxFailures,
		"samples", out.Samples,
		"ms", out.ProcessingTimeMs)
	return out, nil
}

// UpdateJobStatus updates job status in the store, if there is one
func (p *PageProcessor) UpdateJobStatus(ctx context.Context, jobID, kind, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Kind:     kind,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	if metadata != nil {
		if pageID, ok := metadata["pageId"].(string); ok {
			update.PageID = pageID
		}
		if ms, ok := metadata["processingTimeMs"].(int64); ok {
			update.ProcessingTimeMs = ms
		}
		if code, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = code
		}
		if msg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = msg
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

func (p *PageProcessor) loadPage(ctx context.Context, jobID, pageID string, src Source) (*page.Page, error) {
	data, err := p.load(ctx, jobID, "page", src)
	if err != nil {
		return nil, err
	}
	pg, err := page.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewUnsupportedInputError(jobID, err.Error())
	}
	switch {
	case pageID != "":
		pg.ID = pageID
	case pg.ID == "":
		pg.ID = uuid.New().String()
	}
	return pg, nil
}

// buildLanguages loads each language's charset and dictionary. Everything
// is in memory before the first pass starts.
func (p *PageProcessor) buildLanguages(ctx context.Context, codes []string, cls ocr.Classifier) (ocr.Languages, error) {
	langs := make(ocr.Languages, 0, len(codes))
	for _, code := range codes {
		set, err := p.loadCharset(code)
		if err != nil {
			return nil, err
		}
		lang := &ocr.Language{Code: code, Charset: set, Classifier: cls}
		if p.dicts != nil {
			d, err := p.dicts.Load(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("failed to load dictionary for %s: %w", code, err)
			}
			lang.Dictionary = d
		}
		langs = append(langs, lang)
	}
	return langs, nil
}

func (p *PageProcessor) loadCharset(code string) (*unichar.Set, error) {
	capacity := p.config.CharsetCapacity
	if p.config.CharsetDir != "" {
		set, err := unichar.LoadFile(filepath.Join(p.config.CharsetDir, code+CharsetExtension), capacity)
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return unichar.Latin(capacity), nil
}

// targetsFor turns per-label targets into the per-id slice the resegmenter
// takes. Labels outside the set are added so they get an id; unnamed
// classes keep the default target. A label that does not fit in the set
// fails the job.
func targetsFor(jobID string, set *unichar.Set, byLabel map[string]int, defaultTarget int) ([]int, error) {
	if len(byLabel) == 0 {
		return nil, nil
	}
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	ids := make(map[unichar.ID]int, len(byLabel))
	for _, label := range labels {
		id, err := set.Add(label)
		if errors.Is(err, unichar.ErrCapacity) {
			return nil, apperrors.NewResourceExhaustionError("character set", set.Capacity(), err).WithJob(jobID)
		}
		if err != nil {
			return nil, apperrors.NewUnsupportedInputError(jobID, fmt.Sprintf("target label %q: %v", label, err))
		}
		ids[id] = byLabel[label]
	}
	targets := make([]int, set.Size())
	for i := range targets {
		targets[i] = defaultTarget
	}
	for id, n := range ids {
		targets[id] = n
	}
	return targets, nil
}

// samples embeds every labeled single-blob word left on the page
func (p *PageProcessor) samples(pg *page.Page, summary *boxfile.Summary) ([]storage.TrainingSample, error) {
	clones := make(map[int]bool, len(summary.CloneIDs))
	for _, id := range summary.CloneIDs {
		clones[id] = true
	}
	size := p.vectorSize()

	var out []storage.TrainingSample
	for _, loc := range pg.Words() {
		w := loc.Word
		if !w.Labeled() || len(w.Blobs) != 1 {
			continue
		}
		vec, err := ShapeEmbedding(w, size)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.TrainingSample{
			Label:  w.Label,
			WordID: w.ID,
			Clone:  clones[w.ID],
			Left:   w.Box.Left,
			Bottom: w.Box.Bottom,
			Right:  w.Box.Right,
			Top:    w.Box.Top,
			Vector: vec,
		})
	}
	return out, nil
}

func runSummary(jobID string, langs []string, r *recognizer.Result, text string) *storage.RunSummary {
	rate := 0.0
	if r.Chars > 0 {
		rate = float64(r.Rejects) / float64(r.Chars)
	}
	return &storage.RunSummary{
		JobID:       jobID,
		PageID:      r.PageID,
		SessionID:   r.SessionID,
		Languages:   langs,
		Words:       r.Words,
		Chars:       r.Chars,
		Rejects:     r.Rejects,
		RejectRate:  rate,
		Cancelled:   r.Cancelled,
		CancelledIn: r.CancelledIn,
		FontID:      r.FontID,
		DurationMs:  r.Duration.Milliseconds(),
		Text:        text,
		Counters: map[string]interface{}{
			"placeholders":           r.Placeholders,
			"classificationFailures": r.ClassificationFailures,
			"languageWins":           r.LanguageWins,
			"adapted":                r.Adapted,
			"diacriticsAttached":     r.DiacriticsAttached,
			"diacriticsPromoted":     r.DiacriticsPromoted,
			"fuzzyRuns":              r.FuzzyRuns,
			"fuzzyImproved":          r.FuzzyImproved,
			"dictionaryCorrections":  r.DictionaryCorrections,
			"bigramCorrections":      r.BigramCorrections,
			"fontsAssigned":          r.FontsAssigned,
			"misadaptions":           r.Misadaptions,
			"reject":                 r.Reject,
		},
	}
}

func wordResults(pg *page.Page) []storage.WordResult {
	var out []storage.WordResult
	for bi, blk := range pg.Blocks {
		for ri, row := range blk.Rows {
			for _, w := range row.Words {
				wr := storage.WordResult{
					WordID:   w.ID,
					Block:    bi,
					Row:      ri,
					Text:     w.Text(),
					Language: w.Language,
					Rejects:  w.RejectMap.RejectCount(),
					Done:     w.Has(page.FlagDone),
					FontID:   w.FontID,
					Left:     w.Box.Left,
					Bottom:   w.Box.Bottom,
					Right:    w.Box.Right,
					Top:      w.Box.Top,
				}
				if w.BestChoice != nil {
					wr.Certainty = w.BestChoice.Certainty()
				}
				out = append(out, wr)
			}
		}
	}
	return out
}
