package urlx

// CanonicalizePath removes dot-segments from p in place per RFC 3986
// 5.2.4 and returns the canonical length. Runs of '/' collapse to one.
// A ".." never pops past the root of a rooted path; a dangling ".."
// in an unrooted path resolves to "/". The result never contains "."
// or ".." segments, and the operation is idempotent.
func CanonicalizePath(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	rooted := p[0] == '/'
	trailing := p[len(p)-1] == '/'

	var segs []int // write offsets of emitted segment starts
	w := 0
	i := 0
	for i < len(p) {
		for i < len(p) && p[i] == '/' {
			i++
		}
		if i >= len(p) {
			break
		}
		start := i
		for i < len(p) && p[i] != '/' {
			i++
		}
		seg := p[start:i]
		if len(seg) == 1 && seg[0] == '.' {
			continue
		}
		if len(seg) == 2 && seg[0] == '.' && seg[1] == '.' {
			if len(segs) > 0 {
				w = segs[len(segs)-1]
				segs = segs[:len(segs)-1]
			} else if !rooted {
				// dangling "..": the path escapes its base, clamp to root
				rooted = true
			}
			continue
		}
		segs = append(segs, w)
		if rooted || len(segs) > 1 {
			p[w] = '/'
			w++
		}
		copy(p[w:], seg)
		w += len(seg)
	}

	if w == 0 {
		if rooted {
			p[0] = '/'
			return 1
		}
		return 0
	}
	if trailing {
		p[w] = '/'
		w++
	}
	return w
}
