/**
 * Tesseract classifier
 *
 * Classifies one word at a time by cropping its box out of the page image
 * and running Tesseract in single-word mode. Symbol confidences become
 * per-character certainties, and the LSTM runner-up candidates of each
 * symbol become alternate choices. Adapted words are fed back to Tesseract as a
 * user-words list on the next client initialisation.
 */

package classifier

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/draw"

	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

const (
	// Tesseract reads best with glyphs at least this tall.
	defaultMinCropHeight = 48
	cropPadding          = 4
	defaultAdaptCapacity = 2000
	defaultAlternates    = 4
	// Certainty of a symbol Tesseract reports at 0% confidence.
	worstCertainty float32 = -20
)

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Image is the page the words were segmented from.
	Image          image.Image
	TessdataPrefix string
	// MinCropHeight is the height crops are scaled up to.
	MinCropHeight int
	// AdaptCapacity is how many words the adaptive list holds before it
	// reports itself full.
	AdaptCapacity int
	// MaxAlternates caps the alternate choices per word; 0 uses the
	// default and a negative value turns them off.
	MaxAlternates int
	TempDir       string
	Logger        *logging.Logger
}

// Tesseract is an ocr.Classifier and ocr.Adapter backed by gosseract. It
// keeps one client per language and is not safe for concurrent use.
type Tesseract struct {
	img       image.Image
	prefix    string
	minHeight int
	maxAlts   int
	log       *logging.Logger

	clients map[string]*gosseract.Client

	mu    sync.Mutex
	dir   string
	adapt adaptiveWords
	// written is the adaptation version on disk; loaded is the version
	// each client was last initialised with.
	written int
	loaded  map[string]int
}

// NewTesseract creates a Tesseract classifier for one page image
func NewTesseract(cfg *TesseractConfig) (*Tesseract, error) {
	if cfg == nil || cfg.Image == nil {
		return nil, fmt.Errorf("page image is required")
	}
	if cfg.MinCropHeight <= 0 {
		cfg.MinCropHeight = defaultMinCropHeight
	}
	if cfg.AdaptCapacity <= 0 {
		cfg.AdaptCapacity = defaultAdaptCapacity
	}
	maxAlts := cfg.MaxAlternates
	if maxAlts == 0 {
		maxAlts = defaultAlternates
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("tesseract")
	}

	dir, err := os.MkdirTemp(cfg.TempDir, "ocrcore-adapt-")
	if err != nil {
		return nil, fmt.Errorf("failed to create adaptation directory: %w", err)
	}

	return &Tesseract{
		img:       cfg.Image,
		prefix:    cfg.TessdataPrefix,
		minHeight: cfg.MinCropHeight,
		maxAlts:   maxAlts,
		log:       log,
		clients:   make(map[string]*gosseract.Client),
		loaded:    make(map[string]int),
		dir:       dir,
		adapt:     newAdaptiveWords(cfg.AdaptCapacity),
	}, nil
}

// Close releases every client and the adaptation files
func (t *Tesseract) Close() error {
	for code, c := range t.clients {
		if err := c.Close(); err != nil {
			t.log.Warn("Failed to close tesseract client", "language", code, "error", err)
		}
	}
	t.clients = nil
	return os.RemoveAll(t.dir)
}

// Classify runs single-word recognition over w's box.
func (t *Tesseract) Classify(w *page.Word, lang *ocr.Language) ([]*page.WordChoice, error) {
	box := w.Box
	if len(w.Blobs) > 0 {
		box = page.EmptyBox()
		for _, b := range w.Blobs {
			box = box.Union(b.Box())
		}
	}
	symbols, err := t.recognize(box, lang.Code, gosseract.PSM_SINGLE_WORD)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	best := t.choice(symbols, lang.Charset)
	return append([]*page.WordChoice{best}, t.alternates(best, lang.Code)...), nil
}

// alternates reads the symbol candidates of the last recognition from the
// language's client. Failures only cost the alternates.
func (t *Tesseract) alternates(best *page.WordChoice, lang string) []*page.WordChoice {
	if t.maxAlts <= 0 {
		return nil
	}
	c, ok := t.clients[lang]
	if !ok {
		return nil
	}
	hocr, err := c.HOCRText()
	if err != nil {
		t.log.Debug("No hOCR for alternates", "language", lang, "error", err)
		return nil
	}
	positions, err := parseChoices(strings.NewReader(hocr))
	if err != nil {
		t.log.Debug("Unreadable hOCR choices", "language", lang, "error", err)
		return nil
	}
	return alternates(best, positions, t.maxAlts)
}

// ClassifyStandalone classifies blob and extra outlines as an isolated
// character.
func (t *Tesseract) ClassifyStandalone(blob *page.Blob, extra []*page.Outline, lang *ocr.Language) (string, float32, error) {
	box := page.EmptyBox()
	if blob != nil {
		box = blob.Box()
	}
	for _, o := range extra {
		box = box.Union(o.Box)
	}
	symbols, err := t.recognize(box, lang.Code, gosseract.PSM_SINGLE_CHAR)
	if err != nil {
		return "", 0, err
	}
	if len(symbols) == 0 {
		return "", worstCertainty, nil
	}
	c := t.choice(symbols, lang.Charset)
	return c.String(), c.Certainty(), nil
}

func (t *Tesseract) choice(symbols []gosseract.BoundingBox, set *unichar.Set) *page.WordChoice {
	ids := make([]unichar.ID, len(symbols))
	certs := make([]float32, len(symbols))
	var rating float32
	certainty := float32(0)
	for i, s := range symbols {
		id := set.ID(s.Word)
		if id == unichar.Invalid {
			id = unichar.Space
		}
		ids[i] = id
		certs[i] = certaintyOf(s.Confidence)
		certainty = min(certainty, certs[i])
		rating -= certs[i]
	}
	return page.NewWordChoice(set, ids, rating, certainty).WithCharCertainties(certs)
}

// certaintyOf maps a 0-100 confidence onto [worstCertainty, 0].
func certaintyOf(confidence float64) float32 {
	c := min(max(confidence, 0), 100)
	return worstCertainty * float32(1-c/100)
}

func (t *Tesseract) recognize(box page.Box, lang string, mode gosseract.PageSegMode) ([]gosseract.BoundingBox, error) {
	data, err := t.crop(box)
	if err != nil {
		return nil, err
	}
	client, err := t.client(lang)
	if err != nil {
		return nil, err
	}
	if err := client.SetPageSegMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_SYMBOL)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}
	out := boxes[:0]
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) != "" {
			out = append(out, b)
		}
	}
	return out, nil
}

// client returns the language's client, re-pointing it at the adaptive
// word list when that changed since the last call.
func (t *Tesseract) client(lang string) (*gosseract.Client, error) {
	c, ok := t.clients[lang]
	if !ok {
		c = gosseract.NewClient()
		if t.prefix != "" {
			c.TessdataPrefix = t.prefix
		}
		if err := c.SetLanguage(lang); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to set language %s: %w", lang, err)
		}
		if t.maxAlts > 0 {
			c.SetVariable("lstm_choice_mode", "2")
		}
		t.clients[lang] = c
	}

	cfgPath, version, err := t.syncAdaptation()
	if err != nil {
		return nil, err
	}
	if cfgPath != "" && t.loaded[lang] != version {
		if err := c.SetConfigFile(cfgPath); err != nil {
			return nil, fmt.Errorf("failed to load adaptation config: %w", err)
		}
		t.loaded[lang] = version
	}
	return c, nil
}

// crop cuts box out of the page image, converting from the box-file's
// upward y axis, and scales it to at least minHeight pixels tall.
func (t *Tesseract) crop(box page.Box) ([]byte, error) {
	bounds := t.img.Bounds()
	rect := image.Rect(
		box.Left-cropPadding,
		bounds.Max.Y-box.Top-cropPadding,
		box.Right+cropPadding,
		bounds.Max.Y-box.Bottom+cropPadding,
	).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("box %v lies outside the page image", box)
	}

	scale := 1.0
	if rect.Dy() < t.minHeight {
		scale = float64(t.minHeight) / float64(rect.Dy())
	}
	dst := image.NewGray(image.Rect(0, 0, int(float64(rect.Dx())*scale+0.5), int(float64(rect.Dy())*scale+0.5)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), t.img, rect, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// AdaptiveFull reports whether the primary adaptive list is at capacity.
func (t *Tesseract) AdaptiveFull() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adapt.full()
}

// SwitchToBackup replaces the primary list with the backup.
func (t *Tesseract) SwitchToBackup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapt.switchToBackup()
	t.log.Debug("Switched to backup adaptive word list", "words", len(t.adapt.primary))
}

// StartBackup begins collecting a backup list alongside the primary.
func (t *Tesseract) StartBackup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapt.startBackup()
}

// Adapt records an accepted word.
func (t *Tesseract) Adapt(w *page.Word, c *page.WordChoice) {
	if c == nil || c.Len() == 0 || c.ContainsSpace() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapt.add(c.String())
}

// syncAdaptation writes the user-words file and its config when the list
// changed. It returns the config path and the version it holds, or "" when
// nothing was adapted yet.
func (t *Tesseract) syncAdaptation() (string, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.adapt.version == 0 {
		return "", 0, nil
	}
	cfgPath := filepath.Join(t.dir, "adapt.config")
	if t.adapt.version == t.written {
		return cfgPath, t.written, nil
	}

	wordsPath := filepath.Join(t.dir, "adapt.user-words")
	if err := os.WriteFile(wordsPath, []byte(t.adapt.render()), 0o600); err != nil {
		return "", 0, fmt.Errorf("failed to write adaptive word list: %w", err)
	}
	cfg := "user_words_file " + wordsPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		return "", 0, fmt.Errorf("failed to write adaptation config: %w", err)
	}
	t.written = t.adapt.version
	return cfgPath, t.written, nil
}
