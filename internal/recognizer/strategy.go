package recognizer

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/langretry"
	"github.com/tesseract-ocr/tesseract-sub021/internal/ocr"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// initialStrategy is the pass 1 attempt: classify with whatever geometry
// segmentation produced.
type initialStrategy struct {
	params config.PassParams
}

func (initialStrategy) Name() string { return "pass1" }

func (st initialStrategy) Classify(w *page.Word, lang *ocr.Language) ([]*page.Word, error) {
	return langretry.Attempt(w, lang, st.params)
}

// refineStrategy is the pass 2 attempt. The word carries the row's refined
// x-height, and the pass 1 result in the same language competes with the
// new one so a refinement can only help.
type refineStrategy struct {
	params   config.PassParams
	selector config.SelectorParams
}

func (refineStrategy) Name() string { return "pass2" }

func (st refineStrategy) Classify(w *page.Word, lang *ocr.Language) ([]*page.Word, error) {
	words, err := langretry.Attempt(w, lang, st.params)
	if w.BestChoice == nil || w.Has(page.FlagClassifierFailed) || w.Language != lang.Code {
		return words, err
	}
	prev := w.CloneAliased()
	merged, _ := langretry.SelectBestWords([]*page.Word{prev}, words, st.selector.RatingRatio, st.selector.CertaintyMargin)
	return merged, err
}
