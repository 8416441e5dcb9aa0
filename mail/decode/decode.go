// Package decode resolves Content-Transfer-Encoding and charset on mime
// part bodies. Decoding is best-effort: broken quoted-printable keeps the
// literal bytes, broken base64 is truncated at the first bad byte, and an
// unknown charset leaves the content raw.
package decode

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/flashmob/go-mailscan/mail/header"
)

// Transfer decodes body per the Content-Transfer-Encoding value.
// Unknown encodings pass the body through untouched.
func Transfer(body []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "7bit", "8bit", "binary":
		return body
	case "quoted-printable":
		return QuotedPrintable(body)
	case "base64":
		return Base64(body)
	}
	return body
}

// QuotedPrintable decodes RFC 2045 quoted-printable. Soft breaks
// ("=" at end of line) are removed; a bare "=" followed by anything that
// is not two hex digits is kept literal.
func QuotedPrintable(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		// soft break: =\r\n or =\n
		if i+1 < len(b) && b[i+1] == '\n' {
			i++
			continue
		}
		if i+2 < len(b) && b[i+1] == '\r' && b[i+2] == '\n' {
			i += 2
			continue
		}
		if i+2 < len(b) {
			hi, ok1 := unhex(b[i+1])
			lo, ok2 := unhex(b[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		// tolerate the bare '='
		out = append(out, '=')
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Base64 decodes base64 content, ignoring whitespace. Decoding stops at
// the first byte outside the alphabet; whatever decoded up to that point
// is returned.
func Base64(b []byte) []byte {
	clean := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			continue
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '+', c == '/':
			clean = append(clean, c)
			continue
		}
		// '=' padding or a foreign byte both end the data
		goto done
	}
done:
	// a dangling sextet cannot decode to a byte
	if rem := len(clean) % 4; rem == 1 {
		clean = clean[:len(clean)-1]
	}
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, err := base64.RawStdEncoding.Decode(out, clean)
	if err != nil {
		// Decode fills out up to the error position
		return out[:n]
	}
	return out[:n]
}

// ToUTF8 transcodes body from the declared charset label to UTF-8.
// The returned flag reports whether the result is valid UTF-8 (the part
// is then flagged UTF, otherwise kept RAW). An unknown charset returns
// the input unchanged with the flag false unless it already is UTF-8.
func ToUTF8(body []byte, label string) ([]byte, bool) {
	label = header.FixCharset(label)
	if label == "" || label == "utf-8" || label == "us-ascii" || label == "ascii" {
		if utf8.Valid(body) {
			return body, true
		}
		return bytes.ToValidUTF8(body, []byte("�")), true
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		if utf8.Valid(body) {
			return body, true
		}
		return body, false
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		if utf8.Valid(body) {
			return body, true
		}
		return body, false
	}
	if !utf8.Valid(converted) {
		return bytes.ToValidUTF8(converted, []byte("�")), true
	}
	return converted, true
}
