// Package category maps receipt item descriptions to expense accounts.
// Matching is fuzzy (bigram similarity) to tolerate OCR errors like
// M1LK or CHIC KEN; when several rules match, weighted scoring picks the
// most specific one.
package category

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// Fuzzy thresholds by keyword length. Short keywords need most of their
// bigrams intact; long keywords tolerate more corruption.
const (
	fuzzyThresholdShort  = 0.75 // <= 4 chars
	fuzzyThresholdMedium = 0.80 // 5-6 chars
	fuzzyThresholdLong   = 0.70 // >= 7 chars

	exactMatchBonus         = 1000
	priorityScoreMultiplier = 10000
)

// Rule maps a set of keywords to a category key or a full account path.
type Rule struct {
	Keywords  []string `yaml:"keywords"`
	Key       string   `yaml:"key"`
	Category  string   `yaml:"category"`
	Priority  int      `yaml:"priority"`
	ExactOnly bool     `yaml:"exact_only"`
}

// Overlay is one user-supplied rule file layered on top of the built-in
// rules. Later overlays outrank earlier ones.
type Overlay struct {
	ExactOnlyKeywords []string          `yaml:"exact_only_keywords"`
	Rules             []Rule            `yaml:"rules"`
	Accounts          map[string]string `yaml:"accounts"`
}

// LoadOverlayFile reads a YAML rule overlay. A missing file is an empty
// overlay, so callers can point at optional config paths.
func LoadOverlayFile(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overlay{}, nil
		}
		return Overlay{}, fmt.Errorf("reading rule overlay: %w", err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Overlay{}, fmt.Errorf("parsing rule overlay %s: %w", path, err)
	}
	return overlay, nil
}

type keywordPattern struct {
	text string
	// Compiled whole-word pattern for 1-3 char keywords, which match
	// exactly only; fuzzy matching on them is all false positives
	// (TEA inside STEAK).
	wordRe *regexp.Regexp
}

type ruleEntry struct {
	keywords []keywordPattern
	target   string
	priority int
}

// Classifier holds merged rule layers and the key-to-account mapping.
type Classifier struct {
	rules     []ruleEntry
	exactOnly map[string]bool
	accounts  map[string]string
}

// NewClassifier builds a classifier from the built-in rules plus any
// overlays, in order. Overlay rules get a priority band of index*100 so
// a later overlay always outranks an earlier one and all of them outrank
// the built-ins.
func NewClassifier(overlays ...Overlay) *Classifier {
	c := &Classifier{
		exactOnly: map[string]bool{},
		accounts:  map[string]string{},
	}
	for key, account := range defaultCategoryAccounts {
		c.accounts[key] = account
	}
	for _, rule := range builtinRules {
		c.addRule(rule, 0)
	}
	for idx, overlay := range overlays {
		layerPriority := (idx + 1) * 100
		for _, kw := range overlay.ExactOnlyKeywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				c.exactOnly[strings.ToUpper(kw)] = true
			}
		}
		for _, rule := range overlay.Rules {
			c.addRule(rule, layerPriority)
		}
		for key, account := range overlay.Accounts {
			key = strings.TrimSpace(key)
			account = strings.TrimSpace(account)
			if key != "" && account != "" {
				c.accounts[key] = account
			}
		}
	}
	return c
}

func (c *Classifier) addRule(rule Rule, layerPriority int) {
	target := strings.TrimSpace(rule.Key)
	if target == "" {
		target = strings.TrimSpace(rule.Category)
	}
	if target == "" {
		return
	}
	var patterns []keywordPattern
	for _, raw := range rule.Keywords {
		kw := strings.TrimSpace(raw)
		if kw == "" {
			continue
		}
		pattern := keywordPattern{text: strings.ToUpper(kw)}
		if len(strings.ReplaceAll(pattern.text, " ", "")) <= 3 {
			pattern.wordRe = regexp.MustCompile(`\b` + regexp.QuoteMeta(pattern.text) + `\b`)
		}
		patterns = append(patterns, pattern)
		if rule.ExactOnly {
			c.exactOnly[pattern.text] = true
		}
	}
	if len(patterns) == 0 {
		return
	}
	c.rules = append(c.rules, ruleEntry{
		keywords: patterns,
		target:   target,
		priority: rule.Priority + layerPriority,
	})
}

type match struct {
	score    int
	target   string
	keyword  string
	position int
}

func (c *Classifier) findMatches(description string) []match {
	var matches []match
	for _, entry := range c.rules {
		for _, kw := range entry.keywords {
			matched, position, isExact := fuzzyContains(kw, description, c.exactOnly[kw.text])
			if !matched {
				continue
			}
			// Longer keyword = more specific; later position = likely the
			// main item, not a qualifier
			kwLen := len(strings.ReplaceAll(kw.text, " ", ""))
			score := kwLen*10 + position + entry.priority*priorityScoreMultiplier
			if isExact {
				score += exactMatchBonus
			}
			matches = append(matches, match{score: score, target: entry.target, keyword: kw.text, position: position})
			break
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].target != matches[j].target {
			return matches[i].target > matches[j].target
		}
		return matches[i].keyword > matches[j].keyword
	})
	return matches
}

// Key returns the internal category key (or direct account) of the best
// matching rule.
func (c *Classifier) Key(description string) (string, bool) {
	matches := c.findMatches(description)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].target, true
}

// Categorize resolves a description to a full expense account, falling
// back to def when no rule matches or the matched key has no mapping.
// Rule targets that are already account paths pass through unchanged.
func (c *Classifier) Categorize(description, def string) string {
	target, ok := c.Key(description)
	if !ok {
		return def
	}
	if strings.HasPrefix(target, "Expenses:") {
		return target
	}
	if account, ok := c.accounts[target]; ok {
		return account
	}
	return def
}

func thresholdFor(kwLen int) float64 {
	switch {
	case kwLen <= 4:
		return fuzzyThresholdShort
	case kwLen <= 6:
		return fuzzyThresholdMedium
	default:
		return fuzzyThresholdLong
	}
}

// fuzzyContains reports whether the keyword appears in the description,
// exactly or within bigram-similarity tolerance. Position is -1 when not
// found. Spaces are ignored so "CHIC KEN" still matches CHICKEN.
func fuzzyContains(kw keywordPattern, description string, exactOnly bool) (bool, int, bool) {
	descRaw := strings.ToUpper(description)

	if kw.wordRe != nil {
		if loc := kw.wordRe.FindStringIndex(descRaw); loc != nil {
			return true, loc[0], true
		}
		return false, -1, false
	}

	desc := strings.ReplaceAll(descRaw, " ", "")
	keyword := strings.ReplaceAll(kw.text, " ", "")

	if pos := strings.Index(desc, keyword); pos != -1 {
		return true, pos, true
	}
	if exactOnly {
		return false, -1, false
	}

	kwLen := len(keyword)
	threshold := thresholdFor(kwLen)
	windowSize := kwLen + 1

	bestSimilarity := 0.0
	bestPosition := -1
	for start := 0; start <= len(desc)-kwLen+1 && start < len(desc); start++ {
		end := start + windowSize
		if end > len(desc) {
			end = len(desc)
		}
		similarity := bigramSimilarity(keyword, desc[start:end])
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestPosition = start
		}
	}
	if bestSimilarity >= threshold {
		return true, bestPosition, false
	}
	return false, -1, false
}

// bigramSimilarity returns the fraction of s1's bigrams present in s2.
func bigramSimilarity(s1, s2 string) float64 {
	if len(s1) < 2 {
		if strings.Contains(s2, s1) {
			return 1
		}
		return 0
	}
	b1 := bigrams(s1)
	b2 := bigrams(s2)
	if len(b1) == 0 {
		return 0
	}
	common := 0
	for bg := range b1 {
		if b2[bg] {
			common++
		}
	}
	return float64(common) / float64(len(b1))
}

func bigrams(s string) map[string]bool {
	set := make(map[string]bool, len(s))
	for i := 0; i+2 <= len(s); i++ {
		set[s[i:i+2]] = true
	}
	return set
}
