package boxfile

import (
	"fmt"
	"sort"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Config holds resegmenter configuration
type Config struct {
	Charset *unichar.Set
	Params  config.TrainingParams
	// Targets is the wanted sample count per class id. Classes past the end
	// use Params.DefaultTarget.
	Targets []int
	Logger  *logging.Logger
}

// Summary is returned from every run, including fatal ones.
type Summary struct {
	BoxesRead             int
	BoxesApplied          int
	BoxFailures           int
	SegmentationConflicts int
	LabelFailures         int
	CorruptedWords        int
	WordsCreated          int

	Duplicates     int
	RebalanceFatal int
	FatalClasses   []string
	ClassCounts    map[string]int
	// CloneIDs lists the word ids rebalancing created.
	CloneIDs []int

	WordsDropped int
	RowsDropped  int

	// Failures holds one error per failed box, in file order.
	Failures []error
}

// Resegmenter rewrites a page's word layer from box-file entries.
type Resegmenter struct {
	set     *unichar.Set
	params  config.TrainingParams
	targets []int
	log     *logging.Logger
}

// NewResegmenter creates a resegmenter
func NewResegmenter(cfg *Config) (*Resegmenter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Charset == nil {
		return nil, fmt.Errorf("character set is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("boxfile")
	}
	return &Resegmenter{set: cfg.Charset, params: cfg.Params, targets: cfg.Targets, log: log}, nil
}

// run is the state of one Apply call.
type run struct {
	*Resegmenter
	page    *page.Page
	nextID  int
	summary *Summary
}

// Apply labels p from entries, in file order. Box-level failures are
// counted and skipped; only charset exhaustion stops the run, and it
// returns a RESOURCE_EXHAUSTION error alongside the summary so far.
func (r *Resegmenter) Apply(p *page.Page, entries []Entry) (*Summary, error) {
	rn := &run{Resegmenter: r, page: p, summary: &Summary{}}
	for _, loc := range p.Words() {
		rn.nextID = max(rn.nextID, loc.Word.ID+1)
	}

	for _, e := range entries {
		rn.summary.BoxesRead++
		if err := rn.applyBox(e); err != nil {
			if apperrors.IsFatal(err) {
				r.log.Error("Box file run aborted", "line", e.Line, "label", e.Label, "error", err)
				rn.summary.ClassCounts = rn.classCounts()
				return rn.summary, err
			}
			rn.summary.BoxFailures++
			rn.summary.Failures = append(rn.summary.Failures, err)
			r.log.Warn("Box skipped", "line", e.Line, "label", e.Label, "error", err)
			continue
		}
		rn.summary.BoxesApplied++
	}

	for _, b := range p.Blocks {
		for _, row := range b.Rows {
			row.SortWords()
		}
	}
	if r.params.Rebalance {
		rn.rebalance()
	}
	rn.dropUnusable()
	rn.summary.ClassCounts = rn.classCounts()

	r.log.Info("Box file applied",
		"boxes", rn.summary.BoxesRead,
		"applied", rn.summary.BoxesApplied,
		"failures", rn.summary.BoxFailures,
		"corrupted", rn.summary.CorruptedWords,
		"duplicates", rn.summary.Duplicates,
		"rebalance_fatal", rn.summary.RebalanceFatal)
	return rn.summary, nil
}

func (rn *run) applyBox(e Entry) error {
	row, err := rn.findRow(e)
	if err != nil {
		return err
	}

	taken := rn.takeOutlines(row, e.Box)
	if len(taken) == 0 {
		rn.summary.LabelFailures++
		return apperrors.NewLabelingFailureError(e.Label, e.String(), "matched no outlines")
	}

	clusters := [][]*page.Outline{taken}
	if rn.params.FragmentMode {
		clusters = clusterOutlines(taken)
	}
	for i, cluster := range clusters {
		label := e.Label
		if len(clusters) > 1 {
			label = unichar.FragmentLabel(e.Label, i, len(clusters))
		}
		id, err := rn.set.Add(label)
		if err != nil {
			return apperrors.NewResourceExhaustionError("character set", rn.set.Capacity(), err)
		}
		w := page.NewWord(rn.nextID, page.NewBlob(cluster...))
		rn.nextID++
		w.Label = label
		w.SetChoices([]*page.WordChoice{page.NewWordChoice(rn.set, []unichar.ID{id}, 0, 0)})
		row.Words = append(row.Words, w)
		rn.summary.WordsCreated++
	}
	return nil
}

// findRow returns the only row with an outline that major-overlaps e.
func (rn *run) findRow(e Entry) (*page.Row, error) {
	var found []*page.Row
	for _, b := range rn.page.Blocks {
		for _, row := range b.Rows {
			if rowOverlaps(row, e.Box) {
				found = append(found, row)
			}
		}
	}
	switch len(found) {
	case 0:
		rn.summary.LabelFailures++
		return nil, apperrors.NewLabelingFailureError(e.Label, e.String(), "overlaps nothing")
	case 1:
		return found[0], nil
	default:
		rn.summary.SegmentationConflicts++
		return nil, apperrors.NewSegmentationConflictError(e.Label, e.String(), len(found))
	}
}

func rowOverlaps(row *page.Row, box page.Box) bool {
	for _, w := range row.Words {
		for _, b := range w.Blobs {
			for _, o := range b.Outlines {
				if o.Box.MajorOverlap(box) {
					return true
				}
			}
		}
	}
	return false
}

// takeOutlines moves every outline of row that major-overlaps box out of
// its blob. Labeled words that lose outlines are unlabeled and marked
// corrupted; emptied blobs and words are discarded.
func (rn *run) takeOutlines(row *page.Row, box page.Box) []*page.Outline {
	var taken []*page.Outline
	kept := row.Words[:0]
	for _, w := range row.Words {
		lost := false
		blobs := w.Blobs[:0]
		for _, b := range w.Blobs {
			outlines := b.Outlines[:0]
			for _, o := range b.Outlines {
				if o.Box.MajorOverlap(box) {
					taken = append(taken, o)
					lost = true
					continue
				}
				outlines = append(outlines, o)
			}
			b.Outlines = outlines
			if len(b.Outlines) > 0 {
				blobs = append(blobs, b)
			}
		}
		w.Blobs = blobs

		if lost && w.Labeled() {
			w.Label = ""
			w.SetFlag(page.FlagCorrupted, true)
			rn.summary.CorruptedWords++
		}
		if len(w.Blobs) == 0 {
			continue
		}
		if lost {
			w.RecomputeBox()
		}
		kept = append(kept, w)
	}
	clear(row.Words[len(kept):])
	row.Words = kept
	return taken
}

// clusterOutlines splits outlines into groups with no horizontal overlap
// between groups, left to right.
func clusterOutlines(outlines []*page.Outline) [][]*page.Outline {
	sorted := append([]*page.Outline(nil), outlines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Box.Left < sorted[j].Box.Left })

	var clusters [][]*page.Outline
	var span page.Box
	for _, o := range sorted {
		if len(clusters) > 0 && o.Box.XOverlap(span) > 0 {
			last := len(clusters) - 1
			clusters[last] = append(clusters[last], o)
			span = span.Union(o.Box)
			continue
		}
		clusters = append(clusters, []*page.Outline{o})
		span = o.Box
	}
	return clusters
}

// dropUnusable removes unlabeled and multi-blob words, then empty rows.
func (rn *run) dropUnusable() {
	for _, b := range rn.page.Blocks {
		rows := b.Rows[:0]
		for _, row := range b.Rows {
			words := row.Words[:0]
			for _, w := range row.Words {
				if !w.Labeled() || len(w.Blobs) != 1 {
					rn.summary.WordsDropped++
					continue
				}
				words = append(words, w)
			}
			clear(row.Words[len(words):])
			row.Words = words
			if len(row.Words) == 0 {
				rn.summary.RowsDropped++
				continue
			}
			row.ResetLineFlags()
			rows = append(rows, row)
		}
		clear(b.Rows[len(rows):])
		b.Rows = rows
	}
}

func (rn *run) classCounts() map[string]int {
	counts := make(map[string]int)
	for _, loc := range rn.page.Words() {
		if loc.Word.Labeled() {
			counts[loc.Word.Label]++
		}
	}
	return counts
}
