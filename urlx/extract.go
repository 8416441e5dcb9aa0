package urlx

import "bytes"

// Found is one URL located in free text.
type Found struct {
	URL *URL
	Pos int // byte offset of the match in the text
	Len int // length of the matched region
}

var anchors = [][]byte{
	[]byte("http://"),
	[]byte("https://"),
	[]byte("ftp://"),
	[]byte("mailto:"),
	[]byte("www."),
}

// Extract scans text for URL candidates anchored on a scheme or a "www."
// prefix and parses each one. Overlapping candidates are skipped; matches
// are returned in text order.
func Extract(text []byte, tld TLDResolver) []Found {
	var out []Found
	pos := 0
	for pos < len(text) {
		best := -1
		var anchor []byte
		for _, a := range anchors {
			if i := bytes.Index(bytesToLowerASCII(text[pos:]), a); i != -1 {
				if best == -1 || i < best {
					best = i
					anchor = a
				}
			}
		}
		if best == -1 {
			break
		}
		start := pos + best
		// candidates run to the next whitespace or markup byte
		end := start
		for end < len(text) && !terminator(text[end]) && text[end] != '>' {
			end++
		}
		candidate := text[start:end]
		if u, err := ParseWith(candidate, tld); err == nil {
			out = append(out, Found{URL: u, Pos: start, Len: end - start})
			pos = end
			continue
		}
		pos = start + len(anchor)
	}
	return out
}

// bytesToLowerASCII lowercases ASCII letters only, leaving multibyte
// sequences untouched so offsets stay stable.
func bytesToLowerASCII(b []byte) []byte {
	lower := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		lower[i] = c
	}
	return lower
}
