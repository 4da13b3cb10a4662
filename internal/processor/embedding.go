/**
 * Shape embeddings for training samples
 *
 * A sample's vector is an occupancy grid over its word box: each cell holds
 * the fraction of its area covered by outline boxes. The grid is square, so
 * the vector size must be a perfect square.
 */

package processor

import (
	"fmt"
	"math"

	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// gridSide returns the side of the square grid for a vector of size n
func gridSide(n int) (int, error) {
	side := int(math.Sqrt(float64(n)))
	if side < 1 || side*side != n {
		return 0, fmt.Errorf("vector size %d is not a perfect square", n)
	}
	return side, nil
}

// ShapeEmbedding returns the occupancy grid of w's outlines, row-major from
// the top-left cell, with size cells.
func ShapeEmbedding(w *page.Word, size int) ([]float32, error) {
	side, err := gridSide(size)
	if err != nil {
		return nil, err
	}
	box := w.Box
	if box.Empty() {
		return nil, fmt.Errorf("word %d has an empty box", w.ID)
	}

	width := float64(max(box.Width(), 1))
	height := float64(max(box.Height(), 1))
	cellW := width / float64(side)
	cellH := height / float64(side)
	cellArea := cellW * cellH

	vec := make([]float32, size)
	for _, blob := range w.Blobs {
		for _, o := range blob.Outlines {
			// Outline extent in word-relative coordinates, y down.
			x0 := float64(o.Box.Left - box.Left)
			x1 := float64(o.Box.Right - box.Left)
			y0 := float64(box.Top - o.Box.Top)
			y1 := float64(box.Top - o.Box.Bottom)
			for gy := 0; gy < side; gy++ {
				oy := overlap(y0, y1, float64(gy)*cellH, float64(gy+1)*cellH)
				if oy == 0 {
					continue
				}
				for gx := 0; gx < side; gx++ {
					ox := overlap(x0, x1, float64(gx)*cellW, float64(gx+1)*cellW)
					if ox == 0 {
						continue
					}
					i := gy*side + gx
					vec[i] = min(vec[i]+float32(ox*oy/cellArea), 1)
				}
			}
		}
	}
	return vec, nil
}

func overlap(a0, a1, b0, b1 float64) float64 {
	return max(0, min(a1, b1)-max(a0, b0))
}
