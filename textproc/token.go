package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OneOfOne/xxhash"
)

// HashSeed keys the per-token hash. Changing it invalidates every stored
// token statistic, so it is fixed for good.
const HashSeed = 0xdeadbabe

// Sentinel is the reserved splice-point marker. Tokenize never emits or
// hashes a token equal to it; since '!' is not a word character, input
// that contains it verbatim yields only the letters between the marks.
const Sentinel = "!!EX!!"

// Stemmer turns a lowercased word into its stem for the given language.
// A nil or refusing stemmer leaves words untouched.
type Stemmer func(lang string, word []byte) ([]byte, bool)

// TokenizeOptions control normalization of the token stream.
type TokenizeOptions struct {
	// UTF selects Unicode-aware lowercasing; otherwise bytes are
	// lowercased ASCII-wise.
	UTF bool
	// Lang is the detected language code; stemming happens only when it
	// is non-empty and the stemmer accepts it.
	Lang string
	// Stem is the stemmer oracle, may be nil.
	Stem Stemmer
}

// Tokenize walks stripped content, skipping exception spans, and returns
// the normalized tokens with a parallel sequence of seeded 64-bit hashes.
// A token is a maximal run of letters and digits, allowing internal
// apostrophes and hyphens. exceptions must be sorted by position.
func Tokenize(content []byte, exceptions []Exception, opts TokenizeOptions) ([][]byte, []uint64) {
	var tokens [][]byte
	var hashes []uint64
	var cur []byte

	flush := func() {
		if len(cur) == 0 {
			return
		}
		raw := trimWordEdges(cur)
		cur = nil
		if len(raw) == 0 {
			return
		}
		word := normalize(raw, opts)
		if len(word) == 0 || string(word) == Sentinel {
			return
		}
		tokens = append(tokens, word)
		hashes = append(hashes, xxhash.Checksum64S(word, HashSeed))
	}

	exc := 0
	i := 0
	for i < len(content) {
		if exc < len(exceptions) && exceptions[exc].Pos <= i {
			// splice: an exception always breaks the current word,
			// including the zero-length stripped-newline kind
			e := exceptions[exc]
			exc++
			if end := e.Pos + e.Len; end > i {
				flush()
				i = end
			} else if e.Pos == i {
				flush()
			}
			continue
		}
		r, size := utf8.DecodeRune(content[i:])
		if isWordRune(r) || ((r == '\'' || r == '-') && len(cur) > 0) {
			cur = append(cur, content[i:i+size]...)
		} else {
			flush()
		}
		i += size
	}
	flush()
	return tokens, hashes
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func trimWordEdges(tok []byte) []byte {
	for len(tok) > 0 {
		c := tok[len(tok)-1]
		if c == '\'' || c == '-' {
			tok = tok[:len(tok)-1]
			continue
		}
		break
	}
	return tok
}

// normalize lowercases and optionally stems one raw token.
func normalize(raw []byte, opts TokenizeOptions) []byte {
	var word []byte
	if opts.UTF {
		word = []byte(strings.ToLower(string(raw)))
	} else {
		word = make([]byte, len(raw))
		for i, c := range raw {
			if c >= 'A' && c <= 'Z' {
				c += 32
			}
			word[i] = c
		}
	}
	if opts.Lang != "" && opts.Stem != nil {
		if stemmed, ok := opts.Stem(opts.Lang, word); ok {
			word = stemmed
		}
	}
	return word
}
