package pipeline

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

// Built-in pattern families covering Italian and English grant-site URL
// conventions. Config may override any family.
var (
	defaultSinglePatterns = []string{
		`/bando/`,
		`/bandi/[^/]+`,
		`/avviso/`,
		`/call/[^/]+`,
		`/calls/[^/]+`,
		`/grant/[^/]+`,
		`/grants/[^/]+`,
		`/opportunity/`,
		`/opportunities/[^/]+`,
		`/funding/[^/]+`,
		`/topic-details/`,
		`call-for-proposals?-`,
	}
	defaultListPatterns = []string{
		`/bandi/?$`,
		`/bandi\?`,
		`/calls?/?$`,
		`/grants/?$`,
		`/opportunities/?$`,
		`/finanziamenti/?$`,
		`/funding/?$`,
		`/search`,
		`/elenco`,
		`\?page=`,
	}
	defaultOtherPatterns = []string{
		`/contact`,
		`/contatti`,
		`/about`,
		`/chi-siamo`,
		`/privacy`,
		`/cookie`,
		`/login`,
		`/newsletter`,
		`/faq`,
		`/team`,
		`/sitemap`,
	}
)

// RegexClassifier is the zero-cost first classification tier: three ordered
// pattern families, first family wins, no side effects.
type RegexClassifier struct {
	single []*regexp.Regexp
	list   []*regexp.Regexp
	other  []*regexp.Regexp
	log    *zap.Logger
}

// NewRegexClassifier compiles the pattern families. Empty slices fall back
// to the built-in defaults.
func NewRegexClassifier(single, list, other []string, log *zap.Logger) (*RegexClassifier, error) {
	if len(single) == 0 {
		single = defaultSinglePatterns
	}
	if len(list) == 0 {
		list = defaultListPatterns
	}
	if len(other) == 0 {
		other = defaultOtherPatterns
	}
	c := &RegexClassifier{log: log.With(zap.String("component", "regex_classifier"))}
	var err error
	if c.single, err = compileAll(single); err != nil {
		return nil, err
	}
	if c.list, err = compileAll(list); err != nil {
		return nil, err
	}
	if c.other, err = compileAll(other); err != nil {
		return nil, err
	}
	return c, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify partitions urls into classified candidates and the unresolved
// remainder. Every input URL lands in exactly one of the two outputs.
func (c *RegexClassifier) Classify(urls []string) (classified []models.GrantCandidate, unclassified []string) {
	for _, u := range urls {
		if cand, ok := c.classifyOne(u); ok {
			classified = append(classified, cand)
		} else {
			unclassified = append(unclassified, u)
		}
	}
	c.log.Info("regex pass complete",
		zap.Int("input", len(urls)),
		zap.Int("classified", len(classified)),
		zap.Int("unclassified", len(unclassified)))
	return classified, unclassified
}

func (c *RegexClassifier) classifyOne(url string) (models.GrantCandidate, bool) {
	for _, re := range c.single {
		if re.MatchString(url) {
			return models.GrantCandidate{
				URL:      url,
				Category: models.CategorySingleGrant,
				Reason:   "url pattern: " + re.String(),
			}, true
		}
	}
	for _, re := range c.list {
		if re.MatchString(url) {
			return models.GrantCandidate{
				URL:      url,
				Category: models.CategoryGrantList,
				Reason:   "url pattern: " + re.String(),
			}, true
		}
	}
	for _, re := range c.other {
		if re.MatchString(url) {
			return models.GrantCandidate{
				URL:      url,
				Category: models.CategoryOther,
				Reason:   "url pattern: " + re.String(),
			}, true
		}
	}
	return models.GrantCandidate{}, false
}
