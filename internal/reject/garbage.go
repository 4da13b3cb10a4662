package reject

import (
	"strings"
	"unicode"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
)

// WordType is the shape verdict of AcceptableWordString.
type WordType int

const (
	Unacceptable WordType = iota
	LowerCase
	UpperCase
	InitialCap
	LowerAbbrev
	UpperAbbrev
)

func (t WordType) String() string {
	return [...]string{"unacceptable", "lower-case", "upper-case", "initial-cap", "lc-abbrev", "uc-abbrev"}[t]
}

// GarbageLevel grades how likely a word is noise.
type GarbageLevel int

const (
	GarbageOK GarbageLevel = iota
	GarbageDodgy
	GarbageTerrible
	NeverCrunch
)

func (g GarbageLevel) String() string {
	return [...]string{"ok", "dodgy", "terrible", "never-crunch"}[g]
}

const (
	maxAcceptableLen = 20
	minInitialAlphas = 2
	leadingPunct     = "('`\""
	trailingPunct1   = ").,;:?!"
	trailingPunct2   = ")'`\""
)

type glyph struct {
	s                   string
	upper, lower, digit bool
}

func (g glyph) is(s string) bool { return g.s == s }

func (g glyph) in(set string) bool {
	return len(g.s) == 1 && strings.Contains(set, g.s)
}

func glyphsOfChoice(c *page.WordChoice) []glyph {
	set := c.Set()
	out := make([]glyph, c.Len())
	for i := range out {
		id := c.Unichar(i)
		out[i] = glyph{
			s:     set.String(id),
			upper: set.IsUpper(id),
			lower: set.IsLower(id),
			digit: set.IsDigit(id),
		}
	}
	return out
}

func glyphsOfString(s string) []glyph {
	var out []glyph
	for _, r := range s {
		out = append(out, glyph{
			s:     string(r),
			upper: unicode.IsUpper(r),
			lower: unicode.IsLower(r),
			digit: unicode.IsDigit(r),
		})
	}
	return out
}

// AcceptableWordString classifies the shape of s: an optional leading
// bracket or quote, then an upper-case run or a lower-case word with an
// optional initial capital, a single hyphen or a trailing 's, and up to two
// trailing punctuation marks. Failing that, dotted abbreviations qualify.
func AcceptableWordString(s string) WordType {
	return acceptable(glyphsOfString(s))
}

// AcceptableWord is AcceptableWordString over a choice's own charset.
func AcceptableWord(c *page.WordChoice) WordType {
	return acceptable(glyphsOfChoice(c))
}

func acceptable(g []glyph) WordType {
	if len(g) > maxAcceptableLen {
		return Unacceptable
	}
	at := func(i int) glyph {
		if i < len(g) {
			return g[i]
		}
		return glyph{}
	}

	wordType := Unacceptable
	i := 0
	if i < len(g) && g[i].in(leadingPunct) {
		i++
	}
	leading := i

	upper := 0
	for i < len(g) && g[i].upper {
		i++
		upper++
	}

	if upper > 1 {
		wordType = UpperCase
	} else {
		for i < len(g) && g[i].lower {
			i++
		}
		if i-leading < minInitialAlphas {
			return abbreviation(g)
		}
		if at(i).is("-") {
			hyphen := i
			i++
			if i < len(g) {
				for i < len(g) && g[i].lower {
					i++
				}
				if i < hyphen+3 {
					return abbreviation(g)
				}
			}
		} else if at(i).is("'") && at(i+1).is("s") {
			i += 2
		}
		if upper > 0 {
			wordType = InitialCap
		} else {
			wordType = LowerCase
		}
	}

	if i < len(g) && g[i].in(trailingPunct1) {
		i++
	}
	if i < len(g) && i > 0 && g[i-1].s != g[i].s && g[i].in(trailingPunct2) {
		i++
	}
	if i < len(g) {
		wordType = Unacceptable
	}
	if wordType == Unacceptable {
		return abbreviation(g)
	}
	return wordType
}

func abbreviation(g []glyph) WordType {
	if len(g) == 0 {
		return Unacceptable
	}
	var wordType WordType
	var letter func(glyph) bool
	switch {
	case g[0].upper:
		wordType, letter = UpperAbbrev, func(x glyph) bool { return x.upper }
	case g[0].lower:
		wordType, letter = LowerAbbrev, func(x glyph) bool { return x.lower }
	default:
		return Unacceptable
	}
	i := 0
	for i+1 < len(g) && letter(g[i]) && g[i+1].is(".") {
		i += 2
	}
	if i < len(g) {
		return Unacceptable
	}
	return wordType
}

type scanState int

const (
	junk scanState = iota
	firstUpper
	firstLower
	firstNum
	subsequentUpper
	subsequentLower
	subsequentNum
)

// GarbageWord grades w's best choice by scanning runs of upper, lower,
// digit and other characters. okDict marks words some other check already
// found in a dictionary.
func GarbageWord(w *page.Word, okDict bool, p config.RejectParams) GarbageLevel {
	if w.BestChoice == nil {
		return GarbageTerrible
	}
	c := w.BestChoice
	g := glyphsOfChoice(c)

	state := junk
	length := len(g)
	var (
		isolatedDigits, isolatedAlphas int
		badChars, tessRejs             int
		lastChar                       string
		repetition, longestRepetition  int
		lowerRun, longestLowerRun      int
		upperRun, longestUpperRun      int
		totalAlpha                     int
	)

	repeat := func(s string) {
		if s == lastChar {
			repetition++
			longestRepetition = max(longestRepetition, repetition)
		} else {
			lastChar = s
			repetition = 1
		}
	}

	for _, ch := range g {
		switch {
		case ch.upper:
			totalAlpha++
			switch state {
			case subsequentUpper, firstUpper:
				state = subsequentUpper
				upperRun++
				longestUpperRun = max(longestUpperRun, upperRun)
				repeat(ch.s)
			default:
				if state == firstNum {
					isolatedDigits++
				}
				state = firstUpper
				lastChar = ch.s
				repetition = 1
				upperRun = 1
			}
		case ch.lower:
			totalAlpha++
			switch state {
			case subsequentLower, firstLower:
				state = subsequentLower
				lowerRun++
				longestLowerRun = max(longestLowerRun, lowerRun)
				repeat(ch.s)
			default:
				if state == firstNum {
					isolatedDigits++
				}
				state = firstLower
				lastChar = ch.s
				repetition = 1
				lowerRun = 1
			}
		case ch.digit:
			switch state {
			case firstNum:
				state = subsequentNum
			case subsequentNum:
			default:
				if state == firstUpper || state == firstLower {
					isolatedAlphas++
				}
				state = firstNum
			}
		default:
			if ch.s == " " {
				tessRejs++
			} else {
				badChars++
			}
			switch state {
			case firstNum:
				isolatedDigits++
			case firstUpper, firstLower:
				isolatedAlphas++
			}
			state = junk
		}
	}
	switch state {
	case firstNum:
		isolatedDigits++
	case firstUpper, firstLower:
		isolatedAlphas++
	}

	if length >= p.MinNeverCrunch && 2*(totalAlpha-isolatedAlphas) > length &&
		longestRepetition < p.LongRepetitions {
		if acceptable(g) != Unacceptable ||
			longestLowerRun > p.LeaveCaseRun || longestUpperRun > p.LeaveCaseRun {
			return NeverCrunch
		}
	}

	if len(w.RejectMap) > 1 && !c.ContainsSpace() &&
		(page.ValidWordPermuter(c.Permuter(), true) || acceptable(g) != Unacceptable || okDict) {
		return GarbageOK
	}

	okChars := length - badChars - isolatedDigits - isolatedAlphas - tessRejs

	if badChars == 0 && tessRejs == 0 && (length > isolatedDigits+isolatedAlphas || length <= 2) {
		return GarbageOK
	}

	if tessRejs > okChars || (tessRejs > 0 && (badChars+tessRejs)*2 > length) {
		return GarbageTerrible
	}

	if length > 4 {
		dodgy := 2*tessRejs + badChars + isolatedDigits + isolatedAlphas
		if dodgy > 5 || float64(dodgy)/float64(length) > 0.5 {
			return GarbageDodgy
		}
		return GarbageOK
	}
	dodgy := 2*tessRejs + badChars
	if (length == 4 && dodgy > 2) || (length == 3 && dodgy > 2) || dodgy >= length {
		return GarbageDodgy
	}
	return GarbageOK
}
