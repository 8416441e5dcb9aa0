package textproc

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Anchor is one <a> element found during extraction: the href target and
// the text the reader actually sees.
type Anchor struct {
	Href string
	Text string
	// Pos is the byte offset of the display text in the extracted
	// output.
	Pos int
}

// HTMLText is the result of sanitizing an html part.
type HTMLText struct {
	// Text is the visible text with tags removed.
	Text []byte
	// Anchors lists the links in document order.
	Anchors []Anchor
	// Balanced reports that open and close tags matched up.
	Balanced bool
}

// tags whose content is never visible
var skipContent = map[string]bool{
	"script": true, "style": true, "head": true, "title": true,
}

// ExtractHTML walks the html token stream and produces the visible text.
// Newlines inside preformatted contexts become spaces; block-level tags
// insert a line break so positional accounting matches what a reader
// sees. The tokenizer never fails on broken markup, it just keeps going.
func ExtractHTML(data []byte) *HTMLText {
	res := &HTMLText{Balanced: true}
	z := html.NewTokenizer(bytes.NewReader(data))
	var out bytes.Buffer
	depth := 0
	skip := 0
	pre := 0
	var anchor *Anchor
	var anchorBuf bytes.Buffer

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tt == html.StartTagToken {
				depth++
			}
			if skipContent[tag] && tt == html.StartTagToken {
				skip++
				continue
			}
			switch tag {
			case "pre":
				pre++
			case "br", "p", "div", "tr", "li", "table":
				out.WriteByte('\n')
			case "a":
				anchor = &Anchor{}
				anchorBuf.Reset()
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						anchor.Href = string(val)
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			depth--
			if skipContent[tag] && skip > 0 {
				skip--
				continue
			}
			switch tag {
			case "pre":
				if pre > 0 {
					pre--
				}
			case "p", "div", "tr", "li", "table":
				out.WriteByte('\n')
			case "a":
				if anchor != nil {
					anchor.Text = strings.TrimSpace(anchorBuf.String())
					res.Anchors = append(res.Anchors, *anchor)
					anchor = nil
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := z.Text()
			if pre > 0 {
				// preformatted newlines are presentation, not line
				// structure
				text = bytes.ReplaceAll(text, []byte("\n"), []byte(" "))
				text = bytes.ReplaceAll(text, []byte("\r"), []byte(" "))
			}
			if anchor != nil {
				if anchorBuf.Len() == 0 {
					anchor.Pos = out.Len()
				}
				anchorBuf.Write(text)
			}
			out.Write(text)
		}
	}
	if depth != 0 {
		res.Balanced = false
	}
	res.Text = out.Bytes()
	return res
}

// PhishedAnchors returns the anchors whose visible text itself looks
// like a URL on a different host than the href points to.
func PhishedAnchors(anchors []Anchor, parse func([]byte) (host string, ok bool)) []Anchor {
	var out []Anchor
	for _, a := range anchors {
		if a.Href == "" || a.Text == "" {
			continue
		}
		textHost, ok := parse([]byte(a.Text))
		if !ok {
			continue
		}
		hrefHost, ok := parse([]byte(a.Href))
		if !ok {
			continue
		}
		if !strings.EqualFold(textHost, hrefHost) {
			out = append(out, a)
		}
	}
	return out
}
