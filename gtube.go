package mailscan

import "bytes"

// GTUBE is the standard anti-UBE test pattern. Any message carrying it
// in a small text part must be rejected outright, which makes end-to-end
// filter deployments testable without real spam.
const GTUBE = `XJS*C4JDBQADN1.NSBN3*2IDNEN*GTUBE-STANDARD-ANTI-UBE-TEST-EMAIL*C.34X`

// gtubeMaxPartSize bounds the text parts worth scanning; the pattern is
// planted in tiny probe messages, not megabyte bodies.
const gtubeMaxPartSize = 4 * 1024

var gtubePattern = []byte(GTUBE)

func (t *Task) checkGtube() bool {
	for _, tp := range t.TextParts {
		if len(tp.Decoded) > gtubeMaxPartSize {
			continue
		}
		if bytes.Contains(tp.Decoded, gtubePattern) {
			return true
		}
	}
	return false
}
