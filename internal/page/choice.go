package page

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// Permuter records which source endorsed a WordChoice.
type Permuter int

const (
	PermNone Permuter = iota
	PermSystemDict
	PermUserDict
	PermFreqDict
	PermNumber
)

func (p Permuter) String() string {
	switch p {
	case PermSystemDict:
		return "system-dict"
	case PermUserDict:
		return "user-dict"
	case PermFreqDict:
		return "freq-dict"
	case PermNumber:
		return "number"
	default:
		return "none"
	}
}

// ValidWordPermuter reports whether p came from a dictionary, or from the
// number model when numbersOK is set.
func ValidWordPermuter(p Permuter, numbersOK bool) bool {
	switch p {
	case PermSystemDict, PermUserDict, PermFreqDict:
		return true
	case PermNumber:
		return numbersOK
	}
	return false
}

// WordChoice is one candidate result for a word. It is never modified after
// construction; the With* helpers return copies.
type WordChoice struct {
	unichars  []unichar.ID
	set       *unichar.Set
	rating    float32
	certainty float32
	permuter  Permuter

	charCertainties []float32
	fontID          int
	fontScore       float32
}

// NewWordChoice copies ids into a new choice.
func NewWordChoice(set *unichar.Set, ids []unichar.ID, rating, certainty float32) *WordChoice {
	c := &WordChoice{
		unichars:  append([]unichar.ID(nil), ids...),
		set:       set,
		rating:    rating,
		certainty: certainty,
		fontID:    -1,
	}
	return c
}

// ChoiceFromString encodes text against set, mapping unknown runes to space.
func ChoiceFromString(set *unichar.Set, text string, rating, certainty float32) *WordChoice {
	ids, _ := set.Encode(text, false)
	return NewWordChoice(set, ids, rating, certainty)
}

func (c *WordChoice) Len() int { return len(c.unichars) }
func (c *WordChoice) Unichar(i int) unichar.ID { return c.unichars[i] }
func (c *WordChoice) Unichars() []unichar.ID { return append([]unichar.ID(nil), c.unichars...) }
func (c *WordChoice) Set() *unichar.Set { return c.set }
func (c *WordChoice) Rating() float32 { return c.rating }
func (c *WordChoice) Certainty() float32 { return c.certainty }
func (c *WordChoice) Permuter() Permuter { return c.permuter }
func (c *WordChoice) FontID() int { return c.fontID }
func (c *WordChoice) FontScore() float32 { return c.fontScore }
func (c *WordChoice) String() string { return c.set.Join(c.unichars) }
func (c *WordChoice) UnicharString(i int) string { return c.set.String(c.unichars[i]) }

// CharCertainty returns the certainty of char i, falling back to the word's.
func (c *WordChoice) CharCertainty(i int) float32 {
	if i < len(c.charCertainties) {
		return c.charCertainties[i]
	}
	return c.certainty
}

// ContainsSpace reports whether any char is the space/unknown unichar.
func (c *WordChoice) ContainsSpace() bool {
	for _, id := range c.unichars {
		if id == unichar.Space {
			return true
		}
	}
	return false
}

func (c *WordChoice) clone() *WordChoice {
	cp := *c
	cp.unichars = append([]unichar.ID(nil), c.unichars...)
	cp.charCertainties = append([]float32(nil), c.charCertainties...)
	return &cp
}

// WithPermuter returns a copy tagged with p.
func (c *WordChoice) WithPermuter(p Permuter) *WordChoice {
	cp := c.clone()
	cp.permuter = p
	return cp
}

// WithCharCertainties returns a copy carrying per-char certainties.
func (c *WordChoice) WithCharCertainties(certs []float32) *WordChoice {
	cp := c.clone()
	cp.charCertainties = append([]float32(nil), certs...)
	return cp
}

// WithFont returns a copy carrying the classifier's font vote.
func (c *WordChoice) WithFont(id int, score float32) *WordChoice {
	cp := c.clone()
	cp.fontID = id
	cp.fontScore = score
	return cp
}
