// Package received parses Received trace headers, one per SMTP hop:
// the from/by clauses, the connecting address, hostnames, protocol and
// hop timestamp.
package received

import (
	"net"
	"strings"
	"time"
	"unicode"
)

type Flag uint32

const (
	// Synthetic marks a hop fabricated from the observed client address
	// rather than parsed from a header.
	Synthetic Flag = 1 << iota
	// NoTime marks a hop whose date clause was absent or unparsable.
	NoTime
)

// Received is one parsed trace hop.
type Received struct {
	// From is the HELO name as announced by the client.
	From string
	// FromHostname is the hostname in the from comment, when present.
	FromHostname string
	// RealHostname is the verified hostname from the comment.
	RealHostname string
	// RealIP is the connecting address found in the comment.
	RealIP net.IP
	// By is the receiving host.
	By string
	// Protocol is the with clause (SMTP, ESMTP, ESMTPS, ...).
	Protocol string
	// For is the envelope recipient in the for clause, brackets removed.
	For string
	// Timestamp is the hop date after ';'.
	Timestamp time.Time
	Flags     Flag
}

// date layouts seen in the wild, most common first
var dateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// Parse parses a single Received header value. It never fails: clauses
// that cannot be recognized are simply absent in the result.
func Parse(value string) *Received {
	r := &Received{}

	clauses, date := splitClauses(value)
	for _, cl := range clauses {
		word, rest := cutWord(cl)
		switch strings.ToLower(word) {
		case "from":
			r.parseFrom(rest)
		case "by":
			r.By, _ = cutWord(rest)
		case "with":
			r.Protocol, _ = cutWord(rest)
		case "for":
			f, _ := cutWord(rest)
			r.For = strings.Trim(f, "<>")
		}
	}
	r.Flags |= NoTime
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, date); err == nil {
			r.Timestamp = ts
			r.Flags &^= NoTime
			break
		}
	}
	return r
}

// parseFrom handles "from helo (hostname [ip])" with any of the pieces
// missing.
func (r *Received) parseFrom(rest string) {
	name, tail := cutWord(rest)
	r.From = strings.Trim(name, "<>")
	tail = strings.TrimSpace(tail)
	if !strings.HasPrefix(tail, "(") {
		// bare address form: from [1.2.3.4]
		if ip := bracketIP(r.From); ip != nil {
			r.RealIP = ip
			r.From = ""
		}
		return
	}
	end := strings.IndexByte(tail, ')')
	if end == -1 {
		end = len(tail)
	}
	comment := tail[1:end]
	for _, tok := range strings.Fields(comment) {
		tok = strings.Trim(tok, ",")
		if ip := bracketIP(tok); ip != nil {
			r.RealIP = ip
			continue
		}
		if ip := net.ParseIP(tok); ip != nil {
			r.RealIP = ip
			continue
		}
		if r.RealHostname == "" && strings.ContainsRune(tok, '.') &&
			!strings.HasPrefix(tok, "helo=") {
			r.RealHostname = strings.ToLower(tok)
		}
	}
	if r.RealHostname != "" {
		r.FromHostname = r.RealHostname
	}
}

// cutWord splits s on the first run of whitespace, returning the first
// word and the trimmed remainder.
func cutWord(s string) (word, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i == -1 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// bracketIP parses the "[1.2.3.4]" address form.
func bracketIP(tok string) net.IP {
	if len(tok) < 3 || tok[0] != '[' {
		return nil
	}
	end := strings.IndexByte(tok, ']')
	if end == -1 {
		return nil
	}
	inner := tok[1:end]
	inner = strings.TrimPrefix(inner, "IPv6:")
	return net.ParseIP(inner)
}

// splitClauses breaks the value into whitespace-normalized clauses
// keyed by the from/by/with/for keywords; the text after the last ';'
// is the date.
func splitClauses(value string) ([]string, string) {
	date := ""
	if i := strings.LastIndexByte(value, ';'); i != -1 {
		date = strings.TrimSpace(value[i+1:])
		value = value[:i]
	}
	fields := strings.Fields(value)
	var clauses []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			clauses = append(clauses, strings.Join(cur, " "))
			cur = nil
		}
	}
	depth := 0
	for _, f := range fields {
		lower := strings.ToLower(f)
		if depth == 0 && (lower == "from" || lower == "by" || lower == "with" || lower == "for" || lower == "id") {
			flush()
		}
		depth += strings.Count(f, "(") - strings.Count(f, ")")
		if depth < 0 {
			depth = 0
		}
		cur = append(cur, f)
	}
	flush()
	return clauses, date
}

// Synthesize builds the artificial first hop for an observed client
// address that the header chain does not mention.
func Synthesize(ip net.IP, hostname string) *Received {
	return &Received{
		RealIP:       ip,
		RealHostname: hostname,
		Flags:        Synthetic | NoTime,
	}
}
