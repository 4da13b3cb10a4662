package boxfile

import (
	"slices"

	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// sample is a labeled word and the row that holds it.
type sample struct {
	row  *page.Row
	word *page.Word
}

// rebalance clones labeled words of classes below their target count.
// Clones are taken round-robin from the samples present before rebalancing,
// never from other clones. A class with fewer than two originals is never
// duplicated; it is logged as fatal and counted instead.
func (rn *run) rebalance() {
	originals := make(map[unichar.ID][]sample)
	var classes []unichar.ID
	for _, loc := range rn.page.Words() {
		w := loc.Word
		if !w.Labeled() || len(w.Blobs) != 1 {
			continue
		}
		id := rn.set.ID(w.Label)
		if id == unichar.Invalid {
			continue
		}
		if _, seen := originals[id]; !seen {
			classes = append(classes, id)
		}
		originals[id] = append(originals[id], sample{row: loc.Row, word: w})
	}
	slices.Sort(classes)

	touched := make(map[*page.Row]bool)
	for _, id := range classes {
		have := originals[id]
		target := rn.target(id)
		if len(have) >= target {
			continue
		}
		if len(have) < 2 {
			rn.log.Error("Class has too few samples to rebalance",
				"class", rn.set.String(id),
				"samples", len(have),
				"target", target)
			rn.summary.RebalanceFatal++
			rn.summary.FatalClasses = append(rn.summary.FatalClasses, rn.set.String(id))
			continue
		}
		for n := len(have); n < target; n++ {
			src := have[(n-len(have))%len(have)]
			clone := src.word.CloneOwned()
			clone.ID = rn.nextID
			rn.nextID++
			src.row.Words = append(src.row.Words, clone)
			touched[src.row] = true
			rn.summary.Duplicates++
			rn.summary.CloneIDs = append(rn.summary.CloneIDs, clone.ID)
		}
	}

	for row := range touched {
		row.SortWords()
	}
}

func (rn *run) target(id unichar.ID) int {
	if int(id) < len(rn.targets) {
		return rn.targets[id]
	}
	return rn.params.DefaultTarget
}
