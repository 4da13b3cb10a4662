package page

import "math"

// Box is an axis-aligned rectangle with y growing upward, matching the
// box-file convention. An empty box has Right < Left.
type Box struct {
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
	Top    int `json:"top"`
}

// EmptyBox returns a box that unions as the identity.
func EmptyBox() Box {
	return Box{Left: math.MaxInt32, Bottom: math.MaxInt32, Right: math.MinInt32, Top: math.MinInt32}
}

func (b Box) Empty() bool { return b.Right < b.Left || b.Top < b.Bottom }
func (b Box) Width() int { return b.Right - b.Left }
func (b Box) Height() int { return b.Top - b.Bottom }
func (b Box) CenterX() int { return (b.Left + b.Right) / 2 }

// Union returns the smallest box containing both.
func (b Box) Union(o Box) Box {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return Box{
		Left:   min(b.Left, o.Left),
		Bottom: min(b.Bottom, o.Bottom),
		Right:  max(b.Right, o.Right),
		Top:    max(b.Top, o.Top),
	}
}

// XOverlap returns the width of the horizontal intersection (negative when
// the boxes are apart).
func (b Box) XOverlap(o Box) int {
	return min(b.Right, o.Right) - max(b.Left, o.Left)
}

// YOverlap is XOverlap for the vertical axis.
func (b Box) YOverlap(o Box) int {
	return min(b.Top, o.Top) - max(b.Bottom, o.Bottom)
}

// XGap returns the horizontal whitespace between the boxes, 0 or negative
// when they touch or overlap.
func (b Box) XGap(o Box) int {
	if b.Left <= o.Left {
		return o.Left - b.Right
	}
	return b.Left - o.Right
}

// MajorXOverlap reports an x-overlap of at least half the narrower box.
func (b Box) MajorXOverlap(o Box) bool {
	overlap := b.XOverlap(o)
	return overlap >= 0 && 2*overlap >= min(b.Width(), o.Width())
}

// MajorOverlap reports a major overlap on both axes.
func (b Box) MajorOverlap(o Box) bool {
	if !b.MajorXOverlap(o) {
		return false
	}
	overlap := b.YOverlap(o)
	return overlap >= 0 && 2*overlap >= min(b.Height(), o.Height())
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	return o.Left >= b.Left && o.Right <= b.Right && o.Bottom >= b.Bottom && o.Top <= b.Top
}

// Baseline is the row's baseline as a straight line y = Y0 + Slope*x.
type Baseline struct {
	Y0    float64 `json:"y0"`
	Slope float64 `json:"slope"`
}

// At evaluates the baseline.
func (l Baseline) At(x int) float64 {
	return l.Y0 + l.Slope*float64(x)
}
