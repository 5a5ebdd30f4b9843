// Package fingerprint derives the exact-match digest and the normalized
// comparison form of a statement's text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Pair holds both fingerprints of one raw text.
type Pair struct {
	Exact      string `json:"exact"`      // SHA256 hex digest of the trimmed text
	Normalized string `json:"normalized"` // Lossy form used only for similarity
}

// Compute returns the fingerprint pair for raw. The raw text is never modified.
func Compute(raw string) Pair {
	return Pair{
		Exact:      Exact(raw),
		Normalized: Normalize(raw),
	}
}

// Exact computes the SHA256 hex digest of the text with leading and trailing
// whitespace removed.
func Exact(raw string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(hash[:])
}

// punctuation is stripped (not replaced) so that acronyms written with
// gershayim, e.g. צה"ל, stay a single token.
var punctuation = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", ";", "", ":", "",
	"\"", "", "'", "", "(", "", ")", "", "[", "", "]", "",
	"{", "", "}", "", "-", "", "…", "", "–", "", "—", "",
	"“", "", "”", "", "„", "", "‘", "", "’", "", "«", "", "»", "",
	"״", "", "׳", "", "־", "",
)

// stopWords are dropped only when they appear as standalone tokens.
var stopWords = map[string]struct{}{
	// Hebrew
	"של": {}, "את": {}, "על": {}, "עם": {}, "גם": {}, "כי": {}, "אם": {},
	"או": {}, "אבל": {}, "זה": {}, "זו": {}, "זאת": {}, "הוא": {}, "היא": {},
	"ה": {}, "ו": {}, "ב": {}, "ל": {}, "מ": {}, "ש": {}, "כ": {},
	// English
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "is": {},
}

// Normalize lower-cases the text, strips punctuation, collapses whitespace and
// removes stop-words. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	text := strings.ToLower(raw)
	text = punctuation.Replace(text)

	tokens := strings.Fields(text)
	kept := tokens[:0]
	for _, token := range tokens {
		if _, stop := stopWords[token]; stop {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}
