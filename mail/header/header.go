// Package header parses RFC 5322 style message headers: folded lines are
// unfolded, encoded-words are decoded to UTF-8, and lookups preserve the
// order the fields appeared in.
package header

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// Header is one parsed header field.
type Header struct {
	// Name keeps the original casing as it appeared on the wire.
	Name string
	// Norm is the lowercased field name used for lookups.
	Norm string
	// Raw is the unfolded value, undecoded.
	Raw []byte
	// Value is the decoded value: encoded-words resolved to UTF-8,
	// invalid sequences replaced.
	Value string
	// Index is the insertion order of the field in the message.
	Index int
}

// List holds the headers of a message or mime part in wire order.
type List struct {
	hdrs []*Header
	idx  map[string][]*Header
}

// Parse scans b for a header block. It returns the parsed list and the
// offset of the first body byte (just past the blank separator line).
// Lines without a colon are skipped; a missing blank line means the whole
// input was headers.
func Parse(b []byte) (*List, int) {
	l := &List{idx: make(map[string][]*Header)}
	pos := 0
	var name string
	var value []byte

	flush := func() {
		if name == "" {
			return
		}
		l.add(name, value)
		name = ""
		value = nil
	}

	for pos < len(b) {
		eol := bytes.IndexByte(b[pos:], '\n')
		var line []byte
		next := len(b)
		if eol == -1 {
			line = b[pos:]
		} else {
			line = b[pos : pos+eol]
			next = pos + eol + 1
		}
		line = bytes.TrimRight(line, "\r")

		if len(line) == 0 {
			// end of header block
			flush()
			return l, next
		}
		if line[0] == ' ' || line[0] == '\t' {
			// folded continuation
			if name != "" {
				value = append(value, ' ')
				value = append(value, bytes.TrimLeft(line, " \t")...)
			}
			pos = next
			continue
		}
		flush()
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			// not a header line; skip it and keep going
			pos = next
			continue
		}
		name = strings.TrimRight(string(line[:colon]), " ")
		value = append(value, bytes.TrimLeft(line[colon+1:], " \t")...)
		pos = next
	}
	flush()
	return l, len(b)
}

func (l *List) add(name string, raw []byte) {
	h := &Header{
		Name:  name,
		Norm:  strings.ToLower(name),
		Raw:   raw,
		Value: DecodeValue(string(raw)),
		Index: len(l.hdrs),
	}
	l.hdrs = append(l.hdrs, h)
	l.idx[h.Norm] = append(l.idx[h.Norm], h)
}

// Len returns the number of parsed fields.
func (l *List) Len() int { return len(l.hdrs) }

// All returns every field in wire order.
func (l *List) All() []*Header { return l.hdrs }

// ByName returns every field matching name (case-insensitive), in wire
// order.
func (l *List) ByName(name string) []*Header {
	return l.idx[strings.ToLower(name)]
}

// ByNameStrong is ByName restricted to fields whose original casing
// matches name exactly.
func (l *List) ByNameStrong(name string) []*Header {
	var out []*Header
	for _, h := range l.idx[strings.ToLower(name)] {
		if h.Name == name {
			out = append(out, h)
		}
	}
	return out
}

// First returns the decoded value of the first field matching name, or "".
func (l *List) First(name string) string {
	if hs := l.ByName(name); len(hs) > 0 {
		return hs[0].Value
	}
	return ""
}

var wordDec = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(FixCharset(label), input)
	},
}

// DecodeValue resolves RFC 2047 encoded-words in raw to UTF-8. On any
// decode failure the raw text is kept with invalid sequences replaced.
func DecodeValue(raw string) string {
	decoded, err := wordDec.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	if utf8.ValidString(decoded) {
		return decoded
	}
	return strings.ToValidUTF8(decoded, "�")
}

var charsetAliases = strings.NewReplacer(
	"ks_c_5601-1987", "cp949",
	"x-euc", "euc",
	"x-windows_", "cp",
	"windows-", "cp",
	"ibm", "cp",
	"iso-8859-8-i", "iso-8859-8",
)

// FixCharset maps the charset labels mail clients actually emit to names
// the decoder understands.
func FixCharset(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if fixed := charsetAliases.Replace(label); fixed != label {
		return fixed
	}
	return label
}
