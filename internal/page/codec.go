package page

import (
	"encoding/json"
	"fmt"
	"io"
)

// The wire form of a page: segmentation writes the geometry, recognition adds
// the result fields.

type pageJSON struct {
	ID     string      `json:"id,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
	Blocks []blockJSON `json:"blocks"`

	CharCount   int          `json:"char_count,omitempty"`
	RejectCount int          `json:"reject_count,omitempty"`
	Rejected    bool         `json:"rejected,omitempty"`
	Log         *Diagnostics `json:"log,omitempty"`
}

type blockJSON struct {
	Rows []rowJSON `json:"rows"`
}

type rowJSON struct {
	Baseline Baseline   `json:"baseline"`
	XHeight  float64    `json:"x_height,omitempty"`
	Words    []wordJSON `json:"words"`
}

type wordJSON struct {
	ID            int         `json:"id"`
	Box           *Box        `json:"box,omitempty"`
	Blobs         [][]Outline `json:"blobs"`
	Noise         []Outline   `json:"noise,omitempty"`
	FuzzySpace    bool        `json:"fuzzy_space,omitempty"`
	FuzzyNonSpace bool        `json:"fuzzy_non_space,omitempty"`
	BlanksBefore  int         `json:"blanks_before,omitempty"`
	Label         string      `json:"label,omitempty"`

	Text     string       `json:"text,omitempty"`
	Language string       `json:"language,omitempty"`
	Choices  []choiceJSON `json:"choices,omitempty"`
	Rejects  []string     `json:"rejects,omitempty"`
	Done     bool         `json:"done,omitempty"`
	Failed   bool         `json:"failed,omitempty"`
	FontID   *int         `json:"font_id,omitempty"`
}

type choiceJSON struct {
	Text      string  `json:"text"`
	Rating    float32 `json:"rating"`
	Certainty float32 `json:"certainty"`
	Permuter  string  `json:"permuter"`
}

// Decode reads a segmented page. Result fields in the input are ignored.
func Decode(r io.Reader) (*Page, error) {
	var in pageJSON
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}

	p := &Page{ID: in.ID, Width: in.Width, Height: in.Height}
	for bi, bj := range in.Blocks {
		block := &Block{}
		for ri, rj := range bj.Rows {
			row := &Row{Baseline: rj.Baseline, XHeight: rj.XHeight}
			for wi, wj := range rj.Words {
				w := &Word{
					ID:           wj.ID,
					FontID:       -1,
					BlanksBefore: wj.BlanksBefore,
					Label:        wj.Label,
				}
				for _, blobJSON := range wj.Blobs {
					blob := &Blob{}
					for _, o := range blobJSON {
						o := o
						blob.Outlines = append(blob.Outlines, &o)
					}
					if len(blob.Outlines) == 0 {
						return nil, fmt.Errorf("block %d row %d word %d: empty blob", bi, ri, wi)
					}
					w.Blobs = append(w.Blobs, blob)
				}
				for _, o := range wj.Noise {
					o := o
					w.NoiseOutlines = append(w.NoiseOutlines, &o)
				}
				if wj.Box != nil {
					w.Box = *wj.Box
				} else if len(w.Blobs) == 0 {
					return nil, fmt.Errorf("block %d row %d word %d: no box and no blobs", bi, ri, wi)
				}
				w.RecomputeBox()
				w.SetFlag(FlagFuzzySpace, wj.FuzzySpace)
				w.SetFlag(FlagFuzzyNonSpace, wj.FuzzyNonSpace)
				row.Words = append(row.Words, w)
			}
			row.SortWords()
			row.ResetLineFlags()
			block.Rows = append(block.Rows, row)
		}
		p.Blocks = append(p.Blocks, block)
	}
	return p, nil
}

// Encode writes the page with its recognition results.
func Encode(w io.Writer, p *Page) error {
	out := pageJSON{
		ID:          p.ID,
		Width:       p.Width,
		Height:      p.Height,
		CharCount:   p.CharCount,
		RejectCount: p.RejectCount,
		Rejected:    p.Rejected,
		Log:         &p.Log,
	}
	for _, b := range p.Blocks {
		var bj blockJSON
		for _, r := range b.Rows {
			rj := rowJSON{Baseline: r.Baseline, XHeight: r.XHeight}
			for _, word := range r.Words {
				rj.Words = append(rj.Words, encodeWord(word))
			}
			bj.Rows = append(bj.Rows, rj)
		}
		out.Blocks = append(out.Blocks, bj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	return nil
}

func encodeWord(w *Word) wordJSON {
	box := w.Box
	wj := wordJSON{
		ID:            w.ID,
		Box:           &box,
		FuzzySpace:    w.Has(FlagFuzzySpace),
		FuzzyNonSpace: w.Has(FlagFuzzyNonSpace),
		BlanksBefore:  w.BlanksBefore,
		Label:         w.Label,
		Text:          w.Text(),
		Language:      w.Language,
		Done:          w.Has(FlagDone),
		Failed:        w.Has(FlagClassifierFailed),
	}
	for _, blob := range w.Blobs {
		outlines := make([]Outline, len(blob.Outlines))
		for i, o := range blob.Outlines {
			outlines[i] = *o
		}
		wj.Blobs = append(wj.Blobs, outlines)
	}
	for _, o := range w.NoiseOutlines {
		wj.Noise = append(wj.Noise, *o)
	}
	for _, c := range w.Choices {
		wj.Choices = append(wj.Choices, choiceJSON{
			Text:      c.String(),
			Rating:    c.Rating(),
			Certainty: c.Certainty(),
			Permuter:  c.Permuter().String(),
		})
	}
	for _, r := range w.RejectMap {
		wj.Rejects = append(wj.Rejects, r.String())
	}
	if w.FontID >= 0 {
		id := w.FontID
		wj.FontID = &id
	}
	return wj
}
