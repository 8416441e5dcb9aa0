// Package mailscan ingests a raw on-wire message and produces the
// canonical structured form downstream classification works on: the part
// tree, normalized text parts with token hashes, extracted URLs, the
// received chain and a stable content digest.
package mailscan

import (
	"net"

	"github.com/flashmob/go-mailscan/arena"
	"github.com/flashmob/go-mailscan/mail/header"
	"github.com/flashmob/go-mailscan/mail/mime"
	"github.com/flashmob/go-mailscan/mail/received"
	"github.com/flashmob/go-mailscan/textproc"
	"github.com/flashmob/go-mailscan/urlx"
)

// UndefMessageID is the message-id sentinel for messages without one.
const UndefMessageID = "undef"

type TaskFlag uint32

const (
	// FlagMime is set when the input was parsed as a mime message.
	FlagMime TaskFlag = 1 << iota
	// FlagBrokenMime marks the raw-input fallback path.
	FlagBrokenMime
	// FlagSkip tells downstream rules to skip the message.
	FlagSkip
	// FlagGtube is set when the GTUBE test pattern was found.
	FlagGtube
	// FlagJSON marks input delivered through a structured protocol
	// envelope rather than a raw mbox/smtp stream.
	FlagJSON
)

// Action is the pre-classification verdict a scan may already reach.
type Action int

const (
	NoAction Action = iota
	Reject
)

func (a Action) String() string {
	if a == Reject {
		return "reject"
	}
	return "no action"
}

// PreResult is a verdict set before rule evaluation, e.g. by the GTUBE
// check.
type PreResult struct {
	Action  Action
	Message string
}

// Address is one parsed mailbox.
type Address struct {
	Name string
	User string
	Host string
}

func (a Address) String() string {
	return a.User + "@" + a.Host
}

// TextPart is the normalized view of one text-typed mime part.
type TextPart struct {
	// MimeIndex points at the owning part in Task.Parts.
	MimeIndex int

	// Raw is the undecoded body, Decoded the UTF-8 text worked on.
	Raw     []byte
	Decoded []byte

	// Stripped is Decoded with the line terminators removed; the
	// bytes live in the task arena.
	Stripped       []byte
	NewlineOffsets []int
	Lines          int

	// Exceptions are the regions tokenization skipped, ascending.
	Exceptions []textproc.Exception

	// HTML holds the sanitizer result for html parts.
	HTML *textproc.HTMLText

	Script   string
	Language string

	// Tokens are views into arena-allocated normalized bytes; Hashes
	// is the parallel seeded-hash sequence.
	Tokens [][]byte
	Hashes []uint64

	UTF        bool
	IsHTML     bool
	Balanced   bool
	Empty      bool
	Attachment bool
}

// Task is everything derived from one message. It is built by a single
// worker, never shared between tasks, and torn down as a whole.
type Task struct {
	Raw []byte

	MessageID string
	QueueID   string
	Subject   string

	EnvelopeFrom string
	DeliveredTo  string
	Recipients   []Address // To, Cc and Bcc combined
	FromAddrs    []Address

	SourceIP       net.IP
	SourceHostname string

	Headers   *header.List
	Tree      *mime.Tree
	Parts     []*mime.Part
	TextParts []*TextPart
	Received  []*received.Received
	URLs      []*urlx.URL

	Digest    [16]byte
	PreResult *PreResult
	Symbols   []string
	Flags     TaskFlag

	// Scratch carries loosely-typed values produced during the scan
	// (parts_distance, total_words, ...).
	Scratch map[string]interface{}

	arena *arena.Arena
}

func (t *Task) HasFlag(f TaskFlag) bool { return t.Flags&f != 0 }

// Close tears the task down; arena destructors run in reverse
// registration order. The task and every view into its arena are dead
// afterwards.
func (t *Task) Close() {
	if t.arena != nil {
		t.arena.Close()
	}
}

// InjectSymbol records a symbol hit at task scope.
func (t *Task) InjectSymbol(name string) {
	for _, s := range t.Symbols {
		if s == name {
			return
		}
	}
	t.Symbols = append(t.Symbols, name)
}
