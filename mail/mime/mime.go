// Package mime builds a tree of message parts from a raw message byte
// slice. It records each part's headers, content type, disposition and
// body range, decodes transfer encodings, and keeps a per-part digest.
//
// The scanner is tolerant by design: a malformed boundary turns the
// remaining bytes into the body of the enclosing part, nesting past the
// depth limit is attached as an opaque part, and a truncated multipart
// keeps whatever was scanned. It avoids regular expressions and never
// back-tracks.
package mime

import (
	"bytes"
	"crypto/md5"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/flashmob/go-mailscan/mail/decode"
	"github.com/flashmob/go-mailscan/mail/header"
)

// MaxDepth bounds mime tree recursion. Exceeding it is non-fatal: the
// excess is attached as a single opaque part.
const MaxDepth = 20

var ErrNotMime = errors.New("not a mime message")

type Flag uint32

const (
	// Text marks parts with a text/* content type.
	Text Flag = 1 << iota
	// HTML marks text/html parts.
	HTML
	// Multipart marks container parts.
	Multipart
	// Message marks message/rfc822 parts.
	Message
	// Attachment is set from the content disposition.
	Attachment
	// UTF is set when the decoded content is valid UTF-8.
	UTF
	// Broken marks parts whose structure did not parse; their bytes are
	// kept raw.
	Broken
	// Truncated marks parts cut short by end of input.
	Truncated
	// Opaque marks content attached without parsing (depth limit).
	Opaque
	// Empty marks parts whose decoded content is empty.
	Empty
)

type Param struct {
	Name  string
	Value string
}

// ContentType is a parsed type/subtype with its parameters.
type ContentType struct {
	Type    string
	Subtype string
	Params  []Param
}

func (ct *ContentType) Param(name string) string {
	for i := range ct.Params {
		if ct.Params[i].Name == name {
			return ct.Params[i].Value
		}
	}
	return ""
}

func (ct *ContentType) IsMultipart() bool { return ct.Type == "multipart" }

func (ct *ContentType) IsText() bool { return ct.Type == "text" }

func (ct *ContentType) String() string {
	var b strings.Builder
	b.WriteString(ct.Type)
	b.WriteByte('/')
	b.WriteString(ct.Subtype)
	for i := range ct.Params {
		b.WriteString("; ")
		b.WriteString(ct.Params[i].Name)
		if ct.Params[i].Value != "" {
			b.WriteString("=\"")
			b.WriteString(ct.Params[i].Value)
			b.WriteByte('"')
		}
	}
	return b.String()
}

// Part is one node of the mime tree.
type Part struct {
	Headers          *header.List
	CT               ContentType
	Disposition      string
	Filename         string
	Boundary         string
	Charset          string
	TransferEncoding string

	// Raw is the undecoded body range; Decoded is the body after
	// transfer decoding (and charset transcoding for text parts).
	Raw     []byte
	Decoded []byte

	// Parent indexes the owning part in Tree.Parts, -1 for the root.
	// Kept as an index so the tree has no cyclic references.
	Parent int
	Depth  int

	Digest [md5.Size]byte
	Flags  Flag
}

func (p *Part) IsText() bool { return p.Flags&Text != 0 }

// Kind is the closed set of payload variants the pipeline dispatches on.
type Kind int

const (
	KindOther Kind = iota
	KindText
	KindHTML
	KindImage
	KindArchive
	KindMultipart
	KindMessage
)

var archiveSubtypes = map[string]bool{
	"zip": true, "x-zip-compressed": true, "x-rar-compressed": true,
	"x-rar": true, "x-7z-compressed": true, "x-tar": true, "gzip": true,
	"x-gzip": true, "x-bzip2": true,
}

// Kind classifies the part for processor dispatch.
func (p *Part) Kind() Kind {
	switch {
	case p.Flags&Multipart != 0:
		return KindMultipart
	case p.Flags&Message != 0:
		return KindMessage
	case p.Flags&HTML != 0:
		return KindHTML
	case p.Flags&Text != 0:
		return KindText
	case p.CT.Type == "image":
		return KindImage
	case p.CT.Type == "application" && archiveSubtypes[p.CT.Subtype]:
		return KindArchive
	}
	return KindOther
}

// Tree is the parsed part tree in depth-first pre-order.
type Tree struct {
	Parts []*Part
}

// Children returns the indexes of the direct children of part i.
func (t *Tree) Children(i int) []int {
	var out []int
	for j, p := range t.Parts {
		if p.Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// Parse scans raw and builds the part tree. It fails only when the input
// has no header block at all; any structural damage below the root is
// recorded in part flags instead.
func Parse(raw []byte) (*Tree, error) {
	t := &Tree{}
	root := t.parsePart(raw, -1, 0)
	if t.Parts[root].Headers.Len() == 0 {
		return nil, ErrNotMime
	}
	return t, nil
}

// NewRawTree wraps body as a single leaf part of the given content type.
// The orchestrator uses it when structure parsing failed but raw input is
// allowed; ctype comes from the caller's content sniffing.
func NewRawTree(body []byte, ctype string) *Tree {
	t := &Tree{}
	hdrs, _ := header.Parse(nil)
	part := &Part{Headers: hdrs, Parent: -1}
	if ct, err := ParseContentType([]byte(ctype)); err == nil {
		part.CT = ct
	} else {
		part.CT = ContentType{Type: "text", Subtype: "plain"}
	}
	part.Charset = part.CT.Param("charset")
	t.Parts = append(t.Parts, part)
	t.leaf(part, body)
	part.Flags |= Broken
	return t
}

func (t *Tree) parsePart(b []byte, parent, depth int) int {
	hdrs, bodyPos := header.Parse(b)
	part := &Part{Headers: hdrs, Parent: parent, Depth: depth}
	idx := len(t.Parts)
	t.Parts = append(t.Parts, part)

	t.readType(part)
	body := b[bodyPos:]

	if depth >= MaxDepth {
		part.Flags |= Opaque
		part.Raw = body
		part.Decoded = body
		part.Digest = md5.Sum(body)
		return idx
	}

	switch {
	case part.CT.IsMultipart():
		part.Flags |= Multipart
		if part.Boundary == "" {
			t.leaf(part, body)
			part.Flags |= Broken
			return idx
		}
		segs, terminated := splitBoundary(body, part.Boundary)
		if segs == nil {
			// malformed boundary: the bytes become this part's body
			t.leaf(part, body)
			part.Flags |= Broken
			return idx
		}
		part.Raw = body
		part.Digest = md5.Sum(body)
		if !terminated {
			part.Flags |= Truncated
		}
		for _, seg := range segs {
			t.parsePart(seg, idx, depth+1)
		}
	case part.CT.Type == "message" && part.CT.Subtype == "rfc822":
		part.Flags |= Message
		part.Raw = body
		part.Digest = md5.Sum(body)
		t.parsePart(body, idx, depth+1)
	default:
		t.leaf(part, body)
	}
	return idx
}

// readType resolves content type, boundary, charset, transfer encoding
// and disposition from the part headers. Parts without a Content-Type
// default to text/plain.
func (t *Tree) readType(part *Part) {
	if hs := part.Headers.ByName("Content-Type"); len(hs) > 0 {
		ct, err := ParseContentType(hs[0].Raw)
		if err == nil {
			part.CT = ct
		}
	}
	if part.CT.Type == "" {
		part.CT = ContentType{Type: "text", Subtype: "plain",
			Params: []Param{{Name: "charset", Value: "us-ascii"}}}
	}
	part.Boundary = part.CT.Param("boundary")
	part.Charset = part.CT.Param("charset")
	part.Filename = part.CT.Param("name")
	part.TransferEncoding = strings.ToLower(
		strings.TrimSpace(part.Headers.First("Content-Transfer-Encoding")))

	if hs := part.Headers.ByName("Content-Disposition"); len(hs) > 0 {
		disp, params := parseDisposition(hs[0].Raw)
		part.Disposition = disp
		if fn, ok := params["filename"]; ok {
			part.Filename = fn
		}
		if disp == "attachment" {
			part.Flags |= Attachment
		}
	}
}

// leaf finishes a leaf part: transfer decode, charset transcode for text,
// digest and flags.
func (t *Tree) leaf(part *Part, body []byte) {
	part.Raw = body
	part.Decoded = decode.Transfer(body, part.TransferEncoding)
	if part.CT.IsText() {
		part.Flags |= Text
		if part.CT.Subtype == "html" {
			part.Flags |= HTML
		}
		converted, utf := decode.ToUTF8(part.Decoded, part.Charset)
		part.Decoded = converted
		if utf && utf8.Valid(converted) {
			part.Flags |= UTF
		}
	}
	if len(bytes.TrimSpace(part.Decoded)) == 0 {
		part.Flags |= Empty
	}
	part.Digest = md5.Sum(part.Decoded)
}

// splitBoundary cuts body into the segments delimited by the boundary
// lines. It returns nil when no boundary line exists at all; terminated
// reports whether the closing "--boundary--" was seen.
func splitBoundary(body []byte, boundary string) (segs [][]byte, terminated bool) {
	delim := []byte("--" + boundary)
	cur := -1
	pos := 0
	for pos <= len(body) {
		lineStart := pos
		var lineEnd, next int
		if eol := bytes.IndexByte(body[pos:], '\n'); eol == -1 {
			lineEnd, next = len(body), len(body)+1
		} else {
			lineEnd, next = pos+eol, pos+eol+1
		}
		line := bytes.TrimRight(body[lineStart:lineEnd], " \t\r")
		if bytes.HasPrefix(line, delim) {
			if cur != -1 {
				segs = append(segs, trimSegment(body[cur:lineStart]))
			}
			if bytes.HasPrefix(line[len(delim):], []byte("--")) {
				terminated = true
				return
			}
			cur = next
			if cur > len(body) {
				cur = len(body)
			}
		}
		pos = next
	}
	if cur != -1 {
		segs = append(segs, trimSegment(body[cur:]))
	}
	return
}

// trimSegment drops the line break that belongs to the following
// boundary marker.
func trimSegment(seg []byte) []byte {
	if len(seg) > 0 && seg[len(seg)-1] == '\n' {
		seg = seg[:len(seg)-1]
	}
	if len(seg) > 0 && seg[len(seg)-1] == '\r' {
		seg = seg[:len(seg)-1]
	}
	return seg
}
