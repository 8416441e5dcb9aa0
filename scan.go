package mailscan

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net"
	"net/mail"
	"strings"

	"github.com/flashmob/go-mailscan/arena"
	"github.com/flashmob/go-mailscan/config"
	"github.com/flashmob/go-mailscan/log"
	"github.com/flashmob/go-mailscan/mail/mime"
	"github.com/flashmob/go-mailscan/mail/received"
	"github.com/flashmob/go-mailscan/textproc"
	"github.com/flashmob/go-mailscan/urlx"
)

// ErrRawForbidden is the only fatal scan error: structure parsing failed
// and the configuration does not allow falling back to raw input.
var ErrRawForbidden = errors.New("mime parse failed and raw input is not allowed")

// ContentTypeOracle sniffs a mime type from raw bytes. It stands in for
// libmagic-style detection, which is a caller-provided collaborator.
type ContentTypeOracle func([]byte) (string, bool)

// Options qualify one Scan call.
type Options struct {
	// SourceIP is the observed client address, when the caller knows it.
	SourceIP net.IP
	// Hostname is the observed client hostname.
	Hostname string
	// JSON marks input delivered via a structured protocol envelope;
	// such input is checked for an mbox From line only when the
	// configuration marks a local client.
	JSON bool
	// NoMime skips structure parsing and treats the whole input as one
	// raw part.
	NoMime bool
}

// Scanner drives the ingestion pipeline. It is safe for concurrent use:
// all per-message state lives in the Task, configuration is read-only.
type Scanner struct {
	cfg *config.Config
	lg  log.Logger

	// ContentType sniffs a type for the raw-input fallback; nil means
	// everything falls back to text/plain.
	ContentType ContentTypeOracle
	// Stemmer is the stemming oracle, SnowballStemmer unless replaced.
	Stemmer textproc.Stemmer
	// TLD resolves registrable suffixes for extracted URLs, may be nil.
	TLD urlx.TLDResolver
}

func New(cfg *config.Config, lg log.Logger) *Scanner {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Scanner{cfg: cfg, lg: lg, Stemmer: SnowballStemmer}
}

// Scan ingests raw and returns the populated task. The result is usable
// for any input; the only error returned is ErrRawForbidden. The caller
// owns the task and must Close it when done.
func (s *Scanner) Scan(raw []byte, opts Options) (*Task, error) {
	t := &Task{
		Raw:     raw,
		Scratch: make(map[string]interface{}),
		arena:   arena.New(),
	}
	if opts.JSON {
		t.Flags |= FlagJSON
	}
	sum := md5.Sum(raw)
	t.QueueID = hex.EncodeToString(sum[:6])

	body := raw
	// mbox envelope line: skip "From " up to the next LF, except for
	// protocol-delivered input from anything but a local client
	if !opts.JSON || s.cfg.LocalClient {
		body = skipMboxFrom(body)
	}

	if err := s.structure(t, body, opts); err != nil {
		t.Close()
		return nil, err
	}

	root := t.Tree.Parts[0]
	t.Headers = root.Headers
	t.MessageID = messageID(t.Headers.First("Message-ID"))
	t.Subject = t.Headers.First("Subject")

	s.textParts(t)

	if t.checkGtube() {
		t.Flags |= FlagSkip | FlagGtube
		t.PreResult = &PreResult{Action: Reject, Message: "Gtube pattern"}
		t.InjectSymbol("GTUBE")
		s.debugf(t, "gtube pattern found")
	}

	s.receivedChain(t, opts)
	s.addresses(t)
	s.subjectURLs(t)
	s.similarity(t)
	s.digest(t)

	totalWords := 0
	for _, tp := range t.TextParts {
		totalWords += len(tp.Tokens)
	}
	t.Scratch["total_words"] = totalWords

	return t, nil
}

// structure runs the mime parser, or falls back to one synthesized raw
// part when allowed.
func (s *Scanner) structure(t *Task, body []byte, opts Options) error {
	if !opts.NoMime {
		tree, err := mime.Parse(body)
		if err == nil {
			t.Tree = tree
			t.Parts = tree.Parts
			t.Flags |= FlagMime
			return nil
		}
		if !s.cfg.AllowRawInput {
			return ErrRawForbidden
		}
		s.debugf(t, "mime parse failed, falling back to raw: %v", err)
		t.Flags |= FlagBrokenMime
	}
	ctype := "text/plain"
	if s.ContentType != nil {
		if sniffed, ok := s.ContentType(body); ok {
			ctype = sniffed
		}
	}
	t.Tree = mime.NewRawTree(body, ctype)
	t.Parts = t.Tree.Parts
	return nil
}

// partProcessors dispatches on the closed set of payload kinds. Only the
// text variants have a processor; parts of any other kind are skipped by
// the walk.
var partProcessors = map[mime.Kind]func(*Scanner, *Task, int, *mime.Part){
	mime.KindText: (*Scanner).textPart,
	mime.KindHTML: (*Scanner).textPart,
}

// textParts walks the tree and runs the per-kind processors.
func (s *Scanner) textParts(t *Task) {
	for i, p := range t.Parts {
		proc := partProcessors[p.Kind()]
		if proc == nil {
			continue
		}
		proc(s, t, i, p)
	}
}

// textPart normalizes one text-typed leaf: html sanitizing, newline
// stripping, url extraction, script detection, tokenizing and hashing.
func (s *Scanner) textPart(t *Task, i int, p *mime.Part) {
	if p.Flags&mime.Attachment != 0 && !s.cfg.CheckTextAttachments {
		return
	}
	tp := &TextPart{
		MimeIndex:  i,
		Raw:        p.Raw,
		Decoded:    p.Decoded,
		UTF:        p.Flags&mime.UTF != 0,
		IsHTML:     p.Flags&mime.HTML != 0,
		Attachment: p.Flags&mime.Attachment != 0,
		Balanced:   true,
	}

	text := p.Decoded
	if tp.IsHTML {
		tp.HTML = textproc.ExtractHTML(text)
		tp.Balanced = tp.HTML.Balanced
		text = tp.HTML.Text
		s.phishedAnchors(t, tp.HTML.Anchors)
	}

	st := textproc.StripNewlines(text)
	tp.Stripped = t.arena.Copy(st.Content)
	tp.NewlineOffsets = st.Offsets
	tp.Lines = st.Lines

	var urlExc []textproc.Exception
	for _, f := range urlx.Extract(tp.Stripped, s.TLD) {
		t.URLs = append(t.URLs, f.URL)
		urlExc = append(urlExc, textproc.Exception{
			Pos: f.Pos, Len: f.Len, Kind: textproc.URL,
		})
	}
	tp.Exceptions = textproc.MergeExceptions(st.NewlineExceptions(), urlExc)

	lang := ""
	if tp.UTF {
		tp.Script, tp.Language = textproc.DetectScript(tp.Stripped)
		// undetected language means no stemming, on purpose
		lang = tp.Language
	}
	tokens, hashes := textproc.Tokenize(tp.Stripped, tp.Exceptions, textproc.TokenizeOptions{
		UTF:  tp.UTF,
		Lang: lang,
		Stem: s.Stemmer,
	})
	tp.Tokens = make([][]byte, len(tokens))
	for k := range tokens {
		tp.Tokens[k] = t.arena.Copy(tokens[k])
	}
	tp.Hashes = hashes
	tp.Empty = len(tp.Stripped) == 0 || p.Flags&mime.Empty != 0

	t.TextParts = append(t.TextParts, tp)
}

// phishedAnchors flags links whose visible text names a different host
// than the href target.
func (s *Scanner) phishedAnchors(t *Task, anchors []textproc.Anchor) {
	hostOf := func(b []byte) (string, bool) {
		u, err := urlx.Parse(b)
		if err != nil {
			return "", false
		}
		return u.Host, true
	}
	for _, a := range textproc.PhishedAnchors(anchors, hostOf) {
		u, err := urlx.ParseWith([]byte(a.Href), s.TLD)
		if err != nil {
			continue
		}
		u.Flags |= urlx.FlagPhished
		t.URLs = append(t.URLs, u)
	}
}

// receivedChain parses the trace headers and reconciles them with the
// observed client address.
func (s *Scanner) receivedChain(t *Task, opts Options) {
	for _, h := range t.Headers.ByName("Received") {
		t.Received = append(t.Received, received.Parse(h.Value))
	}
	if opts.SourceIP != nil {
		t.SourceIP = opts.SourceIP
		t.SourceHostname = opts.Hostname
		if len(t.Received) == 0 {
			return
		}
		first := t.Received[0]
		if first.RealIP == nil || !first.RealIP.Equal(opts.SourceIP) {
			// the chain does not mention the client we actually saw
			hop := received.Synthesize(opts.SourceIP, opts.Hostname)
			t.Received = append([]*received.Received{hop}, t.Received...)
		}
		return
	}
	if len(t.Received) > 0 && !s.cfg.IgnoreReceived {
		first := t.Received[0]
		if first.RealIP != nil {
			t.SourceIP = first.RealIP
			t.SourceHostname = first.RealHostname
		}
	}
}

// addresses assembles the envelope and header recipients.
func (s *Scanner) addresses(t *Task) {
	if rp := t.Headers.First("Return-Path"); rp != "" {
		t.EnvelopeFrom = strings.Trim(strings.TrimSpace(rp), "<>")
	}
	t.DeliveredTo = t.Headers.First("Delivered-To")
	for _, name := range []string{"To", "Cc", "Bcc"} {
		for _, h := range t.Headers.ByName(name) {
			t.Recipients = append(t.Recipients, parseAddressList(h.Value)...)
		}
	}
	for _, h := range t.Headers.ByName("From") {
		t.FromAddrs = append(t.FromAddrs, parseAddressList(h.Value)...)
	}
}

var addrParser = mail.AddressParser{}

func parseAddressList(value string) []Address {
	parsed, err := addrParser.ParseList(value)
	if err != nil {
		// a single broken mailbox must not lose the whole list; retry
		// element-wise
		var out []Address
		for _, piece := range strings.Split(value, ",") {
			if a, err := addrParser.Parse(strings.TrimSpace(piece)); err == nil {
				if addr, ok := splitMailbox(a); ok {
					out = append(out, addr)
				}
			}
		}
		return out
	}
	var out []Address
	for _, a := range parsed {
		if addr, ok := splitMailbox(a); ok {
			out = append(out, addr)
		}
	}
	return out
}

func splitMailbox(a *mail.Address) (Address, bool) {
	pos := strings.LastIndexByte(a.Address, '@')
	if pos <= 0 {
		return Address{}, false
	}
	return Address{
		Name: a.Name,
		User: a.Address[:pos],
		Host: strings.ToLower(a.Address[pos+1:]),
	}, true
}

// subjectURLs extracts URLs planted in any Subject header.
func (s *Scanner) subjectURLs(t *Task) {
	for _, h := range t.Headers.ByName("Subject") {
		for _, f := range urlx.Extract([]byte(h.Value), s.TLD) {
			t.URLs = append(t.URLs, f.URL)
		}
	}
}

// similarity diffs the two alternative renderings of the same message.
// It runs only for exactly two text parts below one multipart/alternative
// parent; a part sanitized down to empty short-circuits the check.
func (s *Scanner) similarity(t *Task) {
	if len(t.TextParts) != 2 {
		return
	}
	a, b := t.TextParts[0], t.TextParts[1]
	if a.Empty || b.Empty {
		return
	}
	pa, pb := t.Parts[a.MimeIndex], t.Parts[b.MimeIndex]
	if pa.Parent != pb.Parent || pa.Parent < 0 {
		return
	}
	parent := t.Parts[pa.Parent]
	if !parent.CT.IsMultipart() || parent.CT.Subtype != "alternative" {
		return
	}
	dist, ok := textproc.Distance(a.Hashes, b.Hashes)
	if !ok {
		s.warnf(t, "text parts too large for distance computation")
		return
	}
	t.Scratch["parts_distance"] = dist
	t.Scratch["parts_distance_ratio"] = textproc.Ratio(dist, a.Hashes, b.Hashes)
}

// digest folds the per-part digests into the 16-byte task fingerprint.
func (s *Scanner) digest(t *Task) {
	h := md5.New()
	for _, p := range t.Parts {
		h.Write(p.Digest[:])
	}
	copy(t.Digest[:], h.Sum(nil))
}

// skipMboxFrom drops leading whitespace and an mbox "From " envelope
// line, if present.
func skipMboxFrom(body []byte) []byte {
	body = bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(body, []byte("From ")) {
		return body
	}
	nl := bytes.IndexByte(body, '\n')
	if nl == -1 {
		return nil
	}
	return bytes.TrimLeft(body[nl+1:], " \t\r\n")
}

func messageID(v string) string {
	v = strings.Trim(strings.TrimSpace(v), "<>")
	if v == "" {
		return UndefMessageID
	}
	return v
}

func (s *Scanner) debugf(t *Task, format string, args ...interface{}) {
	if s.lg != nil {
		s.lg.WithTask(t.QueueID).Debugf(format, args...)
	}
}

func (s *Scanner) warnf(t *Task, format string, args ...interface{}) {
	if s.lg != nil {
		s.lg.WithTask(t.QueueID).Warnf(format, args...)
	}
}
