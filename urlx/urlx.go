// Package urlx parses URLs the way they appear in mail: wrapped in angle
// brackets, with mixed-case schemes, backslashes for slashes, obfuscated
// IP hosts and assorted trailing punctuation. It is deliberately more
// tolerant than net/url on input and stricter on output: a parsed host is
// always lowercased, de-obfuscated and bracket-free.
//
// Scanning is done byte by byte without regular expressions.
package urlx

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Flags uint32

const (
	// FlagScheme is set when the input carried an explicit scheme.
	FlagScheme Flags = 1 << iota
	// FlagNumeric is set when the host is an IP literal.
	FlagNumeric
	// FlagIPv6 is set for bracketed IPv6 hosts.
	FlagIPv6
	// FlagObfuscated is set when the host needed de-obfuscation
	// (octal/hex/percent-encoded IPv4 forms).
	FlagObfuscated
	// FlagIDN is set when the host contains non-ASCII labels.
	FlagIDN
	// FlagPhished is set by HTML processing when the link text names a
	// different host than the href.
	FlagPhished
)

// URL is a parsed, canonicalized URL. Host is always present and holds
// either a lowercased domain, a dotted-quad IPv4 address or an unbracketed
// shortest-form IPv6 literal.
type URL struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
	Query    string
	Fragment string
	TLD      string
	Flags    Flags
}

func (u *URL) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	if u.Flags&FlagIPv6 != 0 {
		b.WriteByte('[')
		b.WriteString(u.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(u.Host)
	}
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// TLDResolver reports the registrable suffix for a host, if known. The
// lookup itself (public suffix data) is the caller's concern.
type TLDResolver func(host string) (string, bool)

// Error reports the first fatal condition met while parsing and the byte
// offset where it occurred.
type Error struct {
	Offset int
	Reason string
}

func (e *Error) Error() string {
	return "urlx: " + e.Reason + " at " + strconv.Itoa(e.Offset)
}

func fail(off int, reason string) error {
	return &Error{Offset: off, Reason: reason}
}

// Parse parses a single URL from in. Leading whitespace and '<' and
// trailing junk ('>', '.', ',', controls) are tolerated; free text after
// the URL is ignored.
func Parse(in []byte) (*URL, error) {
	return ParseWith(in, nil)
}

// ParseWith is Parse with a registrable-suffix resolver for the TLD field.
func ParseWith(in []byte, tld TLDResolver) (*URL, error) {
	p := &parser{buf: in}
	u, err := p.parse()
	if err != nil {
		return nil, err
	}
	if tld != nil && u.Flags&FlagNumeric == 0 {
		if suffix, ok := tld(u.Host); ok {
			u.TLD = suffix
		}
	}
	return u, nil
}

type parser struct {
	buf   []byte
	pos   int
	sawLt bool // a leading '<' was consumed
}

func (p *parser) eof() bool { return p.pos >= len(p.buf) }

func (p *parser) ch() byte {
	if p.eof() {
		return 0
	}
	return p.buf[p.pos]
}

// terminator reports whether b ends the URL in free text.
func terminator(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b < 0x20 || b == '"' || b == '<'
}

func (p *parser) parse() (*URL, error) {
	// leading junk
	for !p.eof() {
		c := p.ch()
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			p.pos++
			continue
		}
		if c == '<' {
			p.sawLt = true
			p.pos++
			continue
		}
		break
	}
	if p.eof() {
		return nil, fail(p.pos, "empty input")
	}

	u := &URL{}
	scheme, err := p.scheme()
	if err != nil {
		return nil, err
	}
	if scheme != "" {
		u.Scheme = scheme
		u.Flags |= FlagScheme
		// tolerate http:\\host, http:////host and http:host
		for p.ch() == '/' || p.ch() == '\\' {
			p.pos++
		}
	}

	if scheme == "mailto" {
		return p.mailto(u)
	}

	if err := p.authority(u); err != nil {
		return nil, err
	}
	if err := p.hostport(u); err != nil {
		return nil, err
	}
	p.rest(u)

	if u.Host == "" {
		return nil, fail(p.pos, "no host")
	}
	// a bare word with no scheme, no userinfo and no dot is not a URL
	if u.Scheme == "" && u.User == "" && !strings.Contains(u.Host, ".") &&
		u.Flags&FlagNumeric == 0 {
		return nil, fail(p.pos, "no host")
	}
	return u, nil
}

// scheme scans an optional scheme. Whitespace between the scheme token and
// its ':' is fatal.
func (p *parser) scheme() (string, error) {
	start := p.pos
	c := p.ch()
	if !isAlpha(c) {
		return "", nil
	}
	i := p.pos
	for i < len(p.buf) {
		c = p.buf[i]
		if isAlpha(c) || isDigit(c) || c == '+' || c == '-' || c == '.' {
			i++
			continue
		}
		break
	}
	j := i
	for j < len(p.buf) && (p.buf[j] == ' ' || p.buf[j] == '\t') {
		j++
	}
	if j < len(p.buf) && p.buf[j] == ':' {
		scheme := strings.ToLower(string(p.buf[start:i]))
		if !knownSchemes[scheme] {
			// "host:port" shorthand, not a scheme
			return "", nil
		}
		if j != i {
			return "", fail(i, "whitespace in scheme")
		}
		p.pos = j + 1
		return scheme, nil
	}
	return "", nil
}

var knownSchemes = map[string]bool{
	"file": true, "ftp": true, "ftps": true, "gopher": true,
	"http": true, "https": true, "irc": true, "mailto": true,
	"news": true, "nntp": true, "ssh": true, "telnet": true,
	"webcal": true, "ws": true, "wss": true,
}

// mailto handles the shorthand addr-spec form: everything up to the next
// terminator is user@host.
func (p *parser) mailto(u *URL) (*URL, error) {
	start := p.pos
	i := p.pos
	for i < len(p.buf) && !terminator(p.buf[i]) && p.buf[i] != '>' && p.buf[i] != '?' {
		i++
	}
	chunk := p.buf[start:i]
	if i < len(p.buf) && p.buf[i] == '>' && !p.sawLt {
		return nil, fail(i, "unmatched '>'")
	}
	at := lastIndexByte(chunk, '@')
	if at <= 0 {
		return nil, fail(start, "no host")
	}
	u.User = string(chunk[:at])
	host, flags, err := canonHost(chunk[at+1:], start+at+1)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, fail(start+at+1, "no host")
	}
	u.Host = host
	u.Flags |= flags
	return u, nil
}

// authority extracts the optional userinfo. The '@' must come before any
// whitespace; whitespace inside userinfo is fatal.
func (p *parser) authority(u *URL) error {
	start := p.pos
	end := p.pos
	firstWS := -1
	for end < len(p.buf) {
		c := p.buf[end]
		if c == '/' || c == '\\' || c == '?' || c == '#' || c == '>' {
			break
		}
		if firstWS == -1 && (c == ' ' || c == '\t' || c == '\r' || c == '\n' || c < 0x20) {
			firstWS = end
		}
		end++
	}
	chunk := p.buf[start:end]
	limit := len(chunk)
	if firstWS != -1 {
		limit = firstWS - start
	}
	at := lastIndexByte(chunk[:limit], '@')
	if at == -1 {
		if u.Flags&FlagScheme != 0 && firstWS != -1 {
			// with a committed scheme the '@' may sit beyond the
			// whitespace: that is a broken authority, not free text
			if lastIndexByte(chunk, '@') != -1 {
				return fail(firstWS, "whitespace in authority")
			}
		}
		return nil
	}
	user := chunk[:at]
	if i := indexByte(user, ':'); i != -1 {
		u.User = string(user[:i])
		u.Password = string(user[i+1:])
	} else {
		u.User = string(user)
	}
	p.pos = start + at + 1
	return nil
}

// hostport scans the host (bracketed IPv6 or domain/IPv4) and an optional
// port, leaving p.pos at the start of the path.
func (p *parser) hostport(u *URL) error {
	start := p.pos
	if p.ch() == '[' {
		// bracketed literal: find the closing bracket
		i := start + 1
		for i < len(p.buf) && p.buf[i] != ']' {
			if terminator(p.buf[i]) {
				return fail(i, "whitespace in authority")
			}
			i++
		}
		if i >= len(p.buf) {
			return fail(start, "unclosed bracket")
		}
		host, flags, err := canonBracketed(p.buf[start+1:i], start+1)
		if err != nil {
			return err
		}
		u.Host = host
		u.Flags |= flags
		p.pos = i + 1
	} else {
		i := start
		for i < len(p.buf) {
			c := p.buf[i]
			if c == ':' || c == '/' || c == '\\' || c == '?' || c == '#' || c == '>' || terminator(c) {
				break
			}
			i++
		}
		if i < len(p.buf) && p.buf[i] == '>' && !p.sawLt {
			return fail(i, "unmatched '>'")
		}
		raw := trimTrailingJunk(p.buf[start:i])
		host, flags, err := canonHost(raw, start)
		if err != nil {
			return err
		}
		if host == "" {
			if u.User != "" || u.Password != "" {
				return fail(start, "empty host after userinfo")
			}
			return fail(start, "no host")
		}
		u.Host = host
		u.Flags |= flags
		p.pos = i
	}

	if p.ch() == ':' {
		p.pos++
		if p.ch() == '-' {
			return fail(p.pos, "negative port")
		}
		n := 0
		digits := 0
		for isDigit(p.ch()) {
			n = n*10 + int(p.ch()-'0')
			if n > 65535 {
				return fail(p.pos, "port out of range")
			}
			p.pos++
			digits++
		}
		if digits > 0 {
			u.Port = n
		}
	}
	return nil
}

// rest scans path, query and fragment up to the next terminator.
func (p *parser) rest(u *URL) {
	if p.ch() == '/' || p.ch() == '\\' {
		start := p.pos
		for !p.eof() {
			c := p.ch()
			if c == '?' || c == '#' || c == '>' || terminator(c) {
				break
			}
			p.pos++
		}
		path := make([]byte, p.pos-start)
		copy(path, p.buf[start:p.pos])
		for i := range path {
			if path[i] == '\\' {
				path[i] = '/'
			}
		}
		path = trimTrailingJunk(path)
		n := CanonicalizePath(path)
		u.Path = string(path[:n])
	}
	if p.ch() == '?' {
		p.pos++
		start := p.pos
		for !p.eof() {
			c := p.ch()
			if c == '#' || c == '>' || terminator(c) {
				break
			}
			p.pos++
		}
		u.Query = string(trimTrailingJunk(p.buf[start:p.pos]))
	}
	if p.ch() == '#' {
		p.pos++
		start := p.pos
		for !p.eof() {
			c := p.ch()
			if c == '>' || terminator(c) {
				break
			}
			p.pos++
		}
		u.Fragment = string(trimTrailingJunk(p.buf[start:p.pos]))
	}
}

// trimTrailingJunk drops punctuation that commonly trails a URL in text.
func trimTrailingJunk(b []byte) []byte {
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '.', ',', ';', ')', '\'':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(b []byte, c byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// lowerUnicode lowercases s rune-wise. Unlike strings.ToLower it reports
// whether any rune was outside ASCII.
func lowerUnicode(s []byte) (string, bool) {
	idn := false
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRune(s[i:])
		if r >= 0x80 {
			idn = true
		}
		b.WriteRune(unicode.ToLower(r))
		i += size
	}
	return b.String(), idn
}
