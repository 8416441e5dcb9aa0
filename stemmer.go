package mailscan

import (
	"github.com/kljensen/snowball"
)

// language codes with a snowball stemmer available
var stemmerLangs = map[string]string{
	"en": "english",
	"ru": "russian",
	"es": "spanish",
	"fr": "french",
	"sv": "swedish",
	"no": "norwegian",
	"hu": "hungarian",
}

// SnowballStemmer is the default stemmer oracle. It stems only when a
// snowball language exists for the detected code and leaves every other
// word alone.
func SnowballStemmer(lang string, word []byte) ([]byte, bool) {
	name, ok := stemmerLangs[lang]
	if !ok {
		return nil, false
	}
	stemmed, err := snowball.Stem(string(word), name, false)
	if err != nil || stemmed == "" {
		return nil, false
	}
	return []byte(stemmed), true
}
