package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/dictionary"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr/ocrtest"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/storage"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

type fakeClassifier struct {
	ocrtest.Classifier
	closed bool
}

func (f *fakeClassifier) Close() error {
	f.closed = true
	return nil
}

type fakeStore struct {
	updates []*storage.JobUpdate
	run     *storage.RunSummary
	words   []storage.WordResult
	samples []storage.TrainingSample
	fail    error
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, u *storage.JobUpdate) error {
	s.updates = append(s.updates, u)
	return nil
}

func (s *fakeStore) StoreRun(_ context.Context, run *storage.RunSummary, words []storage.WordResult) (int64, error) {
	if s.fail != nil {
		return 0, s.fail
	}
	s.run, s.words = run, words
	return 42, nil
}

func (s *fakeStore) StoreTrainingSamples(_ context.Context, _, _ string, samples []storage.TrainingSample) ([]string, error) {
	s.samples = samples
	ids := make([]string, len(samples))
	for i := range ids {
		ids[i] = "point"
	}
	return ids, nil
}

func (s *fakeStore) VectorSize() int { return 16 }

func pageJSON(t *testing.T, words ...*page.Word) []byte {
	t.Helper()
	p := &page.Page{ID: "page-1", Blocks: []*page.Block{{Rows: []*page.Row{{Words: words}}}}}
	var buf bytes.Buffer
	if err := page.Encode(&buf, p); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 400, 40))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(5, 5, color.Gray{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newProcessor(t *testing.T, store Store, cls *fakeClassifier, progress ProgressFunc) *PageProcessor {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(dictionary.FilePath(dir, "eng"), []byte("cat\ndog\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &ProcessorConfig{
		Languages:    []string{"eng"},
		Dictionaries: dictionary.FileStore{Dir: dir},
		Classifiers:  func(image.Image) (PageClassifier, error) { return cls, nil },
		Progress:     progress,
		Logger:       logging.Discard(),
	}
	if store != nil {
		cfg.Store = store
	}
	p, err := NewPageProcessor(cfg)
	if err != nil {
		t.Fatalf("NewPageProcessor: %v", err)
	}
	return p
}

func readingClassifier(texts map[int]string) *fakeClassifier {
	cls := &fakeClassifier{}
	cls.WordFn = func(w *page.Word, lang *ocr.Language) ([]*page.WordChoice, error) {
		text, ok := texts[w.ID]
		if !ok {
			return nil, errors.New("unreadable")
		}
		return []*page.WordChoice{ocrtest.Choice(lang.Charset, text, 1, -1)}, nil
	}
	return cls
}

func TestShapeEmbedding(t *testing.T) {
	w := page.NewWord(1,
		page.NewBlob(&page.Outline{ID: 1, Box: page.Box{Left: 0, Bottom: 0, Right: 10, Top: 20}}),
		page.NewBlob(&page.Outline{ID: 2, Box: page.Box{Left: 18, Bottom: 0, Right: 20, Top: 2}}),
	)

	vec, err := ShapeEmbedding(w, 4)
	if err != nil {
		t.Fatalf("ShapeEmbedding: %v", err)
	}
	want := []float32{1, 0, 1, float32(4.0 / 100.0)}
	if !reflect.DeepEqual(vec, want) {
		t.Errorf("vector = %v, want %v", vec, want)
	}

	if _, err := ShapeEmbedding(w, 10); err == nil {
		t.Error("expected an error for a non-square size")
	}
}

func TestDetectImageType(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
		want string
	}{
		{name: "png", data: []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, want: "image/png"},
		{name: "jpeg", data: []byte{0xFF, 0xD8, 0xFF, 0xE0}, want: "image/jpeg"},
		{name: "tiff", data: []byte{'I', 'I', 0x2A, 0x00}, want: "image/tiff"},
		{name: "webp", data: []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), want: "image/webp"},
		{name: "pdf", data: []byte("%PDF-1.7"), want: "application/pdf"},
		{name: "short", data: []byte{0x89}, want: ""},
		{name: "text", data: []byte("hello"), want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectImageType(tc.data); got != tc.want {
				t.Errorf("detectImageType = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeImageRejectsUnsupported(t *testing.T) {
	for _, data := range [][]byte{[]byte("%PDF-1.7 ..."), []byte("plain text")} {
		if _, err := decodeImage("job", data); !apperrors.Is(err, apperrors.ErrorUnsupportedInput) {
			t.Errorf("decodeImage(%q) = %v, want UNSUPPORTED_INPUT", data[:4], err)
		}
	}
}

func TestProcessPage(t *testing.T) {
	store := &fakeStore{}
	cls := readingClassifier(map[int]string{1: "cat", 2: "dog"})
	var progress []int
	p := newProcessor(t, store, cls, func(_ string, pct int) { progress = append(progress, pct) })

	out, err := p.ProcessPage(context.Background(), &ProcessRequest{
		JobID: "job-1",
		Page:  Source{Buffer: pageJSON(t, ocrtest.Word(1, 0, 3), ocrtest.Word(2, 60, 3))},
		Image: Source{Buffer: pngImage(t)},
	})
	if err != nil {
		t.Fatalf("ProcessPage: %v", err)
	}

	if out.RunID != 42 || out.PageID != "page-1" {
		t.Errorf("run = %d page = %q", out.RunID, out.PageID)
	}
	if !strings.HasPrefix(out.Text, "cat dog\n") {
		t.Errorf("text = %q", out.Text)
	}
	if store.run == nil || store.run.Words != 2 || store.run.JobID != "job-1" {
		t.Fatalf("run summary = %+v", store.run)
	}
	if len(store.words) != 2 || store.words[0].Text != "cat" || store.words[1].Text != "dog" {
		t.Errorf("word results = %+v", store.words)
	}
	if !cls.closed {
		t.Error("classifier was not closed")
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress = %v, want it to end at 100", progress)
	}
	if w := out.Page.Width; w != 400 {
		t.Errorf("page width from image = %d", w)
	}
}

func TestProcessPageCancelled(t *testing.T) {
	store := &fakeStore{}
	cls := readingClassifier(map[int]string{1: "cat"})
	p := newProcessor(t, store, cls, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := p.ProcessPage(ctx, &ProcessRequest{
		JobID: "job-2",
		Page:  Source{Buffer: pageJSON(t, ocrtest.Word(1, 0, 3))},
		Image: Source{Buffer: pngImage(t)},
	})
	if !apperrors.Is(err, apperrors.ErrorCancellation) {
		t.Fatalf("err = %v, want CANCELLATION", err)
	}
	if out == nil || !out.Result.Cancelled {
		t.Fatal("a cancelled run should still return its result")
	}
	if store.run == nil || !store.run.Cancelled {
		t.Error("cancelled run should be stored")
	}
}

func TestProcessPageStorageFailure(t *testing.T) {
	store := &fakeStore{fail: errors.New("db down")}
	p := newProcessor(t, store, readingClassifier(map[int]string{1: "cat"}), nil)

	_, err := p.ProcessPage(context.Background(), &ProcessRequest{
		JobID: "job-3",
		Page:  Source{Buffer: pageJSON(t, ocrtest.Word(1, 0, 3))},
		Image: Source{Buffer: pngImage(t)},
	})
	if !apperrors.Is(err, apperrors.ErrorStorageFailed) {
		t.Errorf("err = %v, want STORAGE_FAILED", err)
	}
}

func TestProcessPageNeedsInput(t *testing.T) {
	p := newProcessor(t, nil, &fakeClassifier{}, nil)
	_, err := p.ProcessPage(context.Background(), &ProcessRequest{JobID: "job-4"})
	if !apperrors.Is(err, apperrors.ErrorUnsupportedInput) {
		t.Errorf("err = %v, want UNSUPPORTED_INPUT", err)
	}
}

func TestProcessTraining(t *testing.T) {
	store := &fakeStore{}
	p := newProcessor(t, store, &fakeClassifier{}, nil)
	params := config.DefaultParams()
	params.Training.Rebalance = true
	p.params = params

	out, err := p.ProcessTraining(context.Background(), &TrainingRequest{
		JobID:   "job-5",
		Page:    Source{Buffer: pageJSON(t, ocrtest.Word(1, 0, 3))},
		Boxes:   Source{Buffer: []byte("x 0 0 10 20 0\nx 12 0 22 20 0\ny 24 0 34 20 0\n")},
		BoxPage: -1,
		Targets: map[string]int{"x": 3},
	})
	if err != nil {
		t.Fatalf("ProcessTraining: %v", err)
	}

	if out.Summary.BoxesApplied != 3 || out.Summary.Duplicates != 1 {
		t.Errorf("applied = %d duplicates = %d", out.Summary.BoxesApplied, out.Summary.Duplicates)
	}
	if out.Samples != 4 || len(store.samples) != 4 || len(out.PointIDs) != 4 {
		t.Fatalf("samples = %d stored = %d ids = %d", out.Samples, len(store.samples), len(out.PointIDs))
	}
	clones := 0
	for _, s := range store.samples {
		if len(s.Vector) != 16 {
			t.Errorf("sample %d vector size = %d", s.WordID, len(s.Vector))
		}
		if s.Clone {
			clones++
			if s.Label != "x" {
				t.Errorf("clone of %q, want x", s.Label)
			}
		}
	}
	if clones != 1 {
		t.Errorf("clones = %d, want 1", clones)
	}
}

func TestTargetsFor(t *testing.T) {
	testCases := []struct {
		name     string
		capacity int
		labels   map[string]int
		want     map[string]int
		code     apperrors.ErrorCode
	}{
		{name: "none", capacity: 8, want: nil},
		{name: "new labels get ids", capacity: 8, labels: map[string]int{"q": 4, "a": 2}, want: map[string]int{"a": 2, "b": 1, "q": 4}},
		{name: "full set", capacity: 3, labels: map[string]int{"q": 4, "z": 2}, code: apperrors.ErrorResourceExhaustion},
		{name: "empty label", capacity: 8, labels: map[string]int{"": 4}, code: apperrors.ErrorUnsupportedInput},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := unichar.NewSet(tc.capacity)
			for _, u := range []string{"a", "b"} {
				if _, err := set.Add(u); err != nil {
					t.Fatal(err)
				}
			}

			targets, err := targetsFor("job-7", set, tc.labels, 1)
			if tc.code != "" {
				if !apperrors.Is(err, tc.code) {
					t.Fatalf("err = %v, want %s", err, tc.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("targetsFor: %v", err)
			}
			if tc.want == nil {
				if targets != nil {
					t.Errorf("targets = %v, want nil", targets)
				}
				return
			}
			for label, n := range tc.want {
				id := set.ID(label)
				if id == unichar.Invalid || targets[id] != n {
					t.Errorf("target for %q = %v, want %d", label, targets, n)
				}
			}
		})
	}
}

func TestUpdateJobStatus(t *testing.T) {
	store := &fakeStore{}
	p := newProcessor(t, store, &fakeClassifier{}, nil)

	err := p.UpdateJobStatus(context.Background(), "job-6", KindRecognize, StatusFailed, 30, map[string]interface{}{
		"error":     "boom",
		"errorCode": "CANCELLATION",
		"pageId":    "page-9",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := store.updates[0]
	if got.ErrorCode != "CANCELLATION" || got.ErrorMessage != "boom" || got.PageID != "page-9" || got.Progress != 30 {
		t.Errorf("update = %+v", got)
	}
}
