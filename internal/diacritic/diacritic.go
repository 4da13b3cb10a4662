// Package diacritic attaches a word's noise outlines (accents, dots,
// punctuation fragments) to the blobs they belong to.
package diacritic

import (
	"sort"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// failedCert stands in for a classifier error so the subset is never chosen.
const failedCert float32 = -1000

// Result counts what happened to one word's noise.
type Result struct {
	Attached  int // outlines merged into existing blobs
	Promoted  int // outlines that became new blobs
	NewBlobs  int
	Remaining int
	Skipped   bool
}

// Changed reports whether the word's blobs were modified.
func (r Result) Changed() bool { return r.Attached+r.Promoted > 0 }

// Engine runs the reassignment for one language's classifier.
type Engine struct {
	params config.DiacriticParams
	log    *logging.Logger
}

// New creates an engine.
func New(params config.DiacriticParams, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{params: params, log: log}
}

// Reassign moves claimed noise outlines of w into existing or new blobs.
// Unclaimed outlines stay noise.
func (e *Engine) Reassign(w *page.Word, lang *ocr.Language) Result {
	noise := append([]*page.Outline(nil), w.NoiseOutlines...)
	if len(noise) == 0 {
		return Result{}
	}
	if len(noise) > e.params.MaxPerWord {
		e.log.Debug("Too many noise outlines, skipping word", "word", w.ID, "outlines", len(noise))
		return Result{Remaining: len(noise), Skipped: true}
	}
	sort.SliceStable(noise, func(i, j int) bool { return noise[i].Box.Left < noise[j].Box.Left })

	var res Result
	claimed := make([]bool, len(noise))
	overlapped := make([]bool, len(noise))

	// Outlines overlapping a real blob.
	for _, blob := range w.Blobs {
		box := blob.Box()
		var candidates []int
		for i, o := range noise {
			if !claimed[i] && box.MajorXOverlap(o.Box) {
				candidates = append(candidates, i)
				overlapped[i] = true
			}
		}
		if len(candidates) == 0 || len(candidates) > e.params.MaxPerBlob {
			continue
		}
		keep, ok := e.trial(blob, pick(noise, candidates), e.params.AttachedCert, lang)
		if !ok {
			continue
		}
		for k, i := range candidates {
			if keep[k] {
				claimed[i] = true
				blob.Outlines = append(blob.Outlines, noise[i])
				res.Attached++
			}
		}
	}

	// Runs of outlines clear of every blob.
	for _, run := range e.runs(noise, claimed, overlapped) {
		outlines := pick(noise, run)
		attached := false
		for _, target := range e.neighbours(w, boxOf(outlines)) {
			keep, ok := e.trial(target, outlines, e.params.AdjacentCert, lang)
			if !ok {
				continue
			}
			for k, i := range run {
				if keep[k] {
					claimed[i] = true
					target.Outlines = append(target.Outlines, noise[i])
					res.Attached++
				}
			}
			attached = true
			break
		}
		if attached {
			continue
		}
		keep, ok := e.trial(nil, outlines, e.params.IsolatedCert, lang)
		if !ok {
			continue
		}
		blob := &page.Blob{}
		for k, i := range run {
			if keep[k] {
				claimed[i] = true
				blob.Outlines = append(blob.Outlines, noise[i])
				res.Promoted++
			}
		}
		w.Blobs = append(w.Blobs, blob)
		res.NewBlobs++
	}

	var remaining []*page.Outline
	for i, o := range noise {
		if !claimed[i] {
			remaining = append(remaining, o)
		}
	}
	w.NoiseOutlines = remaining
	res.Remaining = len(remaining)
	if res.Changed() {
		w.SortBlobs()
		w.RecomputeBox()
		e.log.Debug("Reassigned noise outlines",
			"word", w.ID,
			"attached", res.Attached,
			"promoted", res.Promoted,
			"remaining", res.Remaining)
	}
	return res
}

// trial runs the greedy search for blob plus outlines. A nil blob means the
// outlines would form a new blob, and the threshold applies unmodified.
func (e *Engine) trial(blob *page.Blob, outlines []*page.Outline, threshold float32, lang *ocr.Language) ([]bool, bool) {
	target := threshold
	if blob != nil {
		_, blobCert, err := lang.Classifier.ClassifyStandalone(blob, nil, lang)
		if err != nil {
			return nil, false
		}
		target = blobCert - (blobCert-threshold)*e.params.NoiseCertFactor
	}
	classify := func(keep []bool) float32 {
		var subset []*page.Outline
		for i, k := range keep {
			if k {
				subset = append(subset, outlines[i])
			}
		}
		_, cert, err := lang.Classifier.ClassifyStandalone(blob, subset, lang)
		if err != nil {
			return failedCert
		}
		return cert
	}
	return GreedySearch(len(outlines), target, classify)
}

// GreedySearch starts from all n candidates and repeatedly drops the one
// whose removal raises certainty the most, stopping once the threshold is
// met, one candidate remains or no removal helps. Ties keep the first found.
// It returns the best subset seen and whether it met the threshold.
func GreedySearch(n int, threshold float32, classify func(keep []bool) float32) ([]bool, bool) {
	test := make([]bool, n)
	for i := range test {
		test[i] = true
	}
	best := append([]bool(nil), test...)
	bestCert := classify(test)
	remaining := n

	for remaining > 1 && bestCert < threshold {
		bestIndex := -1
		for i := range test {
			if !test[i] {
				continue
			}
			test[i] = false
			if cert := classify(test); cert > bestCert {
				bestCert = cert
				bestIndex = i
				copy(best, test)
			}
			test[i] = true
		}
		if bestIndex < 0 {
			break
		}
		test[bestIndex] = false
		remaining--
	}

	if bestCert >= threshold {
		return best, true
	}
	return nil, false
}

// runs groups the outlines that overlap no blob into maximal runs whose x
// extents touch or overlap.
func (e *Engine) runs(noise []*page.Outline, claimed, overlapped []bool) [][]int {
	var out [][]int
	var cur []int
	right := 0
	for i, o := range noise {
		if claimed[i] || overlapped[i] {
			continue
		}
		if len(cur) > 0 && o.Box.Left > right {
			out = append(out, cur)
			cur = nil
		}
		if len(cur) == 0 {
			right = o.Box.Right
		}
		cur = append(cur, i)
		right = max(right, o.Box.Right)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// neighbours returns the nearest blob on each side of box, nearer first.
func (e *Engine) neighbours(w *page.Word, box page.Box) []*page.Blob {
	var left, right *page.Blob
	leftGap, rightGap := 0, 0
	for _, b := range w.Blobs {
		bb := b.Box()
		switch {
		case bb.CenterX() <= box.CenterX():
			if gap := box.Left - bb.Right; left == nil || gap < leftGap {
				left, leftGap = b, gap
			}
		default:
			if gap := bb.Left - box.Right; right == nil || gap < rightGap {
				right, rightGap = b, gap
			}
		}
	}
	switch {
	case left == nil && right == nil:
		return nil
	case left == nil:
		return []*page.Blob{right}
	case right == nil:
		return []*page.Blob{left}
	case rightGap < leftGap:
		return []*page.Blob{right, left}
	default:
		return []*page.Blob{left, right}
	}
}

func pick(noise []*page.Outline, idx []int) []*page.Outline {
	out := make([]*page.Outline, len(idx))
	for k, i := range idx {
		out[k] = noise[i]
	}
	return out
}

func boxOf(outlines []*page.Outline) page.Box {
	box := page.EmptyBox()
	for _, o := range outlines {
		box = box.Union(o.Box)
	}
	return box
}
