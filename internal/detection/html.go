package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bl4ck0w1/muninn/internal/ai"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"golang.org/x/net/html"
)

// Advisor is the semantic-judgment collaborator used by the detectors. A nil
// Advisor disables the AI step entirely.
type Advisor interface {
	AssessXSS(ctx context.Context, c ai.XSSContext) ai.Assessment
	AssessCSRF(ctx context.Context, c ai.CSRFContext) ai.Assessment
	AssessPhishing(ctx context.Context, c ai.PhishingContext) ai.PhishingAssessment
}

const aiDisabledNote = "AI analysis not configured"

func parseHTML(body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func inlineScripts(doc *goquery.Document) []string {
	var out []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if body := strings.TrimSpace(s.Text()); body != "" {
			out = append(out, body)
		}
	})
	return out
}

type eventHandler struct {
	Tag   string
	Attr  string
	Value string
}

func (h eventHandler) String() string {
	return fmt.Sprintf("<%s %s=%q>", h.Tag, h.Attr, h.Value)
}

func eventHandlers(doc *goquery.Document) []eventHandler {
	var out []eventHandler
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				if strings.HasPrefix(strings.ToLower(a.Key), "on") {
					out = append(out, eventHandler{Tag: n.Data, Attr: strings.ToLower(a.Key), Value: a.Val})
				}
			}
		}
	})
	return out
}

func hasCSPMeta(doc *goquery.Document) bool {
	found := false
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("http-equiv")
		if strings.EqualFold(strings.TrimSpace(v), "Content-Security-Policy") {
			found = true
			return false
		}
		return true
	})
	return found
}

func formInputs(form *goquery.Selection, withValues bool) []ai.FormInput {
	var out []ai.FormInput
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		fi := ai.FormInput{
			Name: in.AttrOr("name", ""),
			Type: in.AttrOr("type", ""),
		}
		if withValues {
			fi.Value = utils.Truncate(in.AttrOr("value", ""), 100)
		}
		out = append(out, fi)
	})
	return out
}

const surroundingTextNodes = 10

// surroundingText collects up to ten non-blank text nodes before form and
// up to ten from the form onwards, each side capped at limit runes.
func surroundingText(doc *goquery.Document, form *goquery.Selection, limit int) string {
	if len(form.Nodes) == 0 || len(doc.Nodes) == 0 {
		return ""
	}
	target := form.Nodes[0]

	var texts []string
	mark := -1
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == target {
			mark = len(texts)
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				texts = append(texts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc.Nodes[0])
	if mark < 0 {
		return ""
	}

	before := texts[max(0, mark-surroundingTextNodes):mark]
	after := texts[mark:min(len(texts), mark+surroundingTextNodes)]
	return utils.TruncateTail(strings.Join(before, " "), limit) + "..." + utils.Truncate(strings.Join(after, " "), limit)
}
