package ledger

import (
	"regexp"
	"strings"
)

var (
	corpSuffixRe   = regexp.MustCompile(`\s+(INC|LLC|LTD|CORP|CO|#\d+|\d+)\.?$`)
	provinceRe     = regexp.MustCompile(`,?\s*[A-Z]{2}\s*$`)
	trailingCityRe = regexp.MustCompile(`(?:,\s*|\s+)[A-Z][A-Za-z]+\s*$`)
	alnumRe        = regexp.MustCompile(`[^A-Z0-9]`)
)

func normalizeMerchant(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = corpSuffixRe.ReplaceAllString(name, "")
	name = provinceRe.ReplaceAllString(name, "")
	name = trailingCityRe.ReplaceAllString(name, "")
	return alnumRe.ReplaceAllString(name, "")
}

// MerchantSimilarity scores how likely two merchant strings name the
// same business, between 0.0 and 1.0. OCR mangles spacing and store
// numbers, so this compares normalized forms rather than raw text.
func MerchantSimilarity(a, b string) float64 {
	na, nb := normalizeMerchant(a), normalizeMerchant(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}

	minLen := len(na)
	if len(nb) < minLen {
		minLen = len(nb)
	}
	prefix := 0
	for prefix < minLen && na[prefix] == nb[prefix] {
		prefix++
	}
	if prefix >= 4 {
		return 0.5 + 0.4*float64(prefix)/float64(minLen)
	}

	wordsA := merchantWords(a)
	wordsB := merchantWords(b)
	shared := 0
	union := map[string]bool{}
	for w := range wordsA {
		union[w] = true
		if wordsB[w] {
			shared++
		}
	}
	for w := range wordsB {
		union[w] = true
	}
	if shared > 0 {
		return 0.3 + 0.4*float64(shared)/float64(len(union))
	}

	return 0.0
}

var merchantWordRe = regexp.MustCompile(`[A-Z]{3,}`)

func merchantWords(name string) map[string]bool {
	words := map[string]bool{}
	for _, w := range merchantWordRe.FindAllString(strings.ToUpper(name), -1) {
		words[w] = true
	}
	return words
}
