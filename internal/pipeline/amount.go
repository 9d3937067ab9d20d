package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountRe       = regexp.MustCompile(`\d[\d.,]*`)
	dotThousandsRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

// normalizeFundingAmount canonicalizes a model-reported funding amount to
// "CUR min-max" or "CUR amount" when the text is parsable. Unparsable
// values pass through untouched rather than being dropped: a vague amount
// is still worth showing to a recipient.
func normalizeFundingAmount(s *string) *string {
	if s == nil {
		return nil
	}
	text := *s
	lower := strings.ToLower(text)

	currency := detectCurrency(lower)
	if currency == "" {
		return s
	}

	var amounts []float64
	for _, m := range amountRe.FindAllString(text, -1) {
		if v, ok := parseAmountToken(m); ok && v > 0 {
			amounts = append(amounts, v)
		}
	}
	if len(amounts) == 0 {
		return s
	}

	var out string
	if len(amounts) == 1 {
		out = fmt.Sprintf("%s %s", currency, formatAmount(amounts[0]))
		if strings.Contains(lower, "up to") || strings.Contains(lower, "fino a") || strings.Contains(lower, "maximum") {
			out = fmt.Sprintf("%s up to %s", currency, formatAmount(amounts[0]))
		}
	} else {
		min, max := amounts[0], amounts[0]
		for _, a := range amounts {
			if a < min {
				min = a
			}
			if a > max {
				max = a
			}
		}
		out = fmt.Sprintf("%s %s-%s", currency, formatAmount(min), formatAmount(max))
	}
	return &out
}

func detectCurrency(lower string) string {
	switch {
	case strings.Contains(lower, "€") || strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(lower, "£") || strings.Contains(lower, "gbp") || strings.Contains(lower, "pound"):
		return "GBP"
	case strings.Contains(lower, "$") || strings.Contains(lower, "usd") || strings.Contains(lower, "dollar"):
		return "USD"
	}
	return ""
}

// parseAmountToken accepts both separator conventions: 1,000,000.50 and
// 1.000.000,50.
func parseAmountToken(m string) (float64, bool) {
	lastComma := strings.LastIndex(m, ",")
	lastDot := strings.LastIndex(m, ".")

	var clean string
	switch {
	case lastComma > lastDot:
		// European style: dots group thousands, comma is decimal.
		clean = strings.ReplaceAll(m, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case lastComma < 0 && dotThousandsRe.MatchString(m):
		// 50.000 in European text is fifty thousand, not fifty.
		clean = strings.ReplaceAll(m, ".", "")
	default:
		clean = strings.ReplaceAll(m, ",", "")
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
