package match

import (
	"regexp"
	"sort"
	"strings"
)

// KeywordIndex is the inverted mapping from lowercased keyword to the
// recipients interested in it. Built once per run, immutable afterwards.
type KeywordIndex struct {
	keywords map[string][]string // keyword -> emails
	patterns map[string]*regexp.Regexp
	ordered  []string // keywords, sorted, for deterministic iteration
}

// NewKeywordIndex builds the index from per-recipient keyword lists.
// Keywords are lowercased and trimmed; duplicates collapse onto the same
// entry with the union of recipients.
func NewKeywordIndex(recipients map[string][]string) *KeywordIndex {
	idx := &KeywordIndex{
		keywords: map[string][]string{},
		patterns: map[string]*regexp.Regexp{},
	}
	for email, kws := range recipients {
		for _, kw := range kws {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if !contains(idx.keywords[kw], email) {
				idx.keywords[kw] = append(idx.keywords[kw], email)
			}
		}
	}
	for kw := range idx.keywords {
		sort.Strings(idx.keywords[kw])
		idx.patterns[kw] = compileBoundary(kw)
		idx.ordered = append(idx.ordered, kw)
	}
	sort.Strings(idx.ordered)
	return idx
}

// compileBoundary builds a case-insensitive whole-word pattern. Go's \b is
// ASCII-only, so letter/digit classes stand in for Unicode word boundaries.
func compileBoundary(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(kw) + `($|[^\p{L}\p{N}_])`)
}

// Keywords returns every indexed keyword in sorted order.
func (i *KeywordIndex) Keywords() []string { return i.ordered }

// Recipients returns the emails owning keyword kw.
func (i *KeywordIndex) Recipients(kw string) []string { return i.keywords[kw] }

// Matches reports whether kw occurs in text as a whole word. The caller is
// expected to have pre-filtered with a raw substring check.
func (i *KeywordIndex) Matches(kw, text string) bool {
	p, ok := i.patterns[kw]
	if !ok {
		return false
	}
	return p.MatchString(text)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
