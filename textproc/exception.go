// Package textproc normalizes decoded text parts for feature extraction:
// newline stripping with positional accounting, HTML text extraction,
// writing-system detection, word tokenization with seeded hashing, and a
// bounded edit distance between token-hash sequences.
package textproc

import "sort"

// ExceptionKind says why a region of stripped content must be skipped by
// the tokenizer.
type ExceptionKind int

const (
	// Newline is a removed line terminator (length 0).
	Newline ExceptionKind = iota
	// Generated marks content injected by processing, not the sender.
	Generated
	// URL marks an extracted link region.
	URL
)

// kind priority on equal positions: URL > Generated > Newline
var kindPriority = map[ExceptionKind]int{URL: 2, Generated: 1, Newline: 0}

// Exception is a byte range of stripped content spliced out of
// tokenization while keeping positional accounting intact.
type Exception struct {
	Pos  int
	Len  int
	Kind ExceptionKind
}

// MergeExceptions combines exception lists into one sequence sorted
// ascending by position. Entries sharing a position are deduplicated,
// keeping the highest-priority kind; overlapping ranges are folded into
// their predecessor.
func MergeExceptions(lists ...[]Exception) []Exception {
	var all []Exception
	for _, l := range lists {
		all = append(all, l...)
	}
	if len(all) == 0 {
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Pos != all[j].Pos {
			return all[i].Pos < all[j].Pos
		}
		return kindPriority[all[i].Kind] > kindPriority[all[j].Kind]
	})
	out := all[:1]
	for _, e := range all[1:] {
		last := &out[len(out)-1]
		if e.Pos == last.Pos {
			// duplicate position: the higher-priority kind sorted first
			if e.Len > last.Len {
				last.Len = e.Len
			}
			continue
		}
		if e.Pos < last.Pos+last.Len {
			// overlap folds into the predecessor
			if end := e.Pos + e.Len; end > last.Pos+last.Len {
				last.Len = end - last.Pos
			}
			continue
		}
		out = append(out, e)
	}
	return out
}
