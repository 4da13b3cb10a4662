package classifier

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/unichar"
)

// symbolChoice is one LSTM candidate for a symbol position.
type symbolChoice struct {
	text string
	conf float64
}

// parseChoices reads the per-symbol candidate lists Tesseract writes into
// hOCR when lstm_choice_mode is 2. Each list is sorted by confidence,
// highest first.
func parseChoices(r io.Reader) ([][]symbolChoice, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var out [][]symbolChoice
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "span" && strings.HasPrefix(attr(n, "id"), "lstm_choices_") {
			var group []symbolChoice
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode || !strings.HasPrefix(attr(c, "id"), "choice_") {
					continue
				}
				conf, ok := xConfs(attr(c, "title"))
				text := strings.TrimSpace(textOf(c))
				if !ok || text == "" {
					continue
				}
				group = append(group, symbolChoice{text: text, conf: conf})
			}
			sort.SliceStable(group, func(i, j int) bool { return group[i].conf > group[j].conf })
			out = append(out, group)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// xConfs extracts the value of an "x_confs N" title property.
func xConfs(title string) (float64, bool) {
	for _, prop := range strings.Split(title, ";") {
		fields := strings.Fields(prop)
		if len(fields) == 2 && fields[0] == "x_confs" {
			v, err := strconv.ParseFloat(fields[1], 64)
			return v, err == nil
		}
	}
	return 0, false
}

// alternates builds up to n choices that differ from best in exactly one
// position, using the runner-up candidates of each symbol. The most certain
// come first. Nothing is built when the candidate lists do not line up with
// best's characters.
func alternates(best *page.WordChoice, positions [][]symbolChoice, n int) []*page.WordChoice {
	if n <= 0 || best == nil || len(positions) != best.Len() {
		return nil
	}
	set := best.Set()
	ids := best.Unichars()
	certs := make([]float32, len(ids))
	for i := range certs {
		certs[i] = best.CharCertainty(i)
	}

	var out []*page.WordChoice
	for i, group := range positions {
		for _, cand := range group {
			id := set.ID(cand.text)
			if id == unichar.Invalid || id == ids[i] {
				continue
			}
			altIDs := append([]unichar.ID(nil), ids...)
			altIDs[i] = id
			altCerts := append([]float32(nil), certs...)
			altCerts[i] = certaintyOf(cand.conf)

			var rating float32
			certainty := float32(0)
			for _, c := range altCerts {
				certainty = min(certainty, c)
				rating -= c
			}
			out = append(out, page.NewWordChoice(set, altIDs, rating, certainty).WithCharCertainties(altCerts))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Certainty() != out[j].Certainty() {
			return out[i].Certainty() > out[j].Certainty()
		}
		return out[i].Rating() < out[j].Rating()
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
