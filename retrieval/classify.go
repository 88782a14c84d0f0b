package retrieval

import (
	"regexp"
	"strings"
)

// Classification says how a question should be retrieved.
type Classification struct {
	// ParameterWide is true when the question asks for one parameter
	// across every fund.
	ParameterWide bool
	// Parameter names the matched parameter, e.g. "expense_ratio".
	Parameter string
}

type parameter struct {
	name     string
	synonyms []*regexp.Regexp
}

// parameters is checked in order; the first parameter with a matching
// synonym wins.
var parameters = []parameter{
	newParameter("aum", "aum", "assets under management", "assets under mgmt"),
	newParameter("fund_size", "fund size", "size of fund"),
	newParameter("expense_ratio", "expense ratio", "ter", "total expense ratio"),
	newParameter("nav", "nav", "net asset value"),
	newParameter("returns", "returns", "return", "performance"),
	newParameter("exit_load", "exit load", "exit load charges"),
	newParameter("min_sip", "minimum sip", "min sip", "sip minimum", "minimum investment"),
	newParameter("risk_level", "risk level", "risk", "riskometer"),
	newParameter("category", "category", "fund category"),
	newParameter("lock_in", "lock in", "lock-in", "lockin period"),
}

var (
	fundIndicators = []string{" of ", " for ", " fund", " scheme", " plan"}
	allWords       = regexp.MustCompile(`\b(all|every|each|list|show|table|compare)\b`)
)

func newParameter(name string, synonyms ...string) parameter {
	p := parameter{name: name}
	for _, s := range synonyms {
		p.synonyms = append(p.synonyms, regexp.MustCompile(`\b`+regexp.QuoteMeta(s)+`\b`))
	}
	return p
}

// Classify decides whether question asks for a parameter across all funds.
// It matches a parameter synonym and then requires either no sign of a
// specific fund or an explicit request for all of them. Anything else is a
// specific-fund question.
func Classify(question string) Classification {
	q := strings.ToLower(question)
	wantsAll := allWords.MatchString(q)

	for _, p := range parameters {
		if !p.matches(q) {
			continue
		}
		if wantsAll || !mentionsFund(q) {
			return Classification{ParameterWide: true, Parameter: p.name}
		}
		return Classification{}
	}
	return Classification{}
}

func (p parameter) matches(q string) bool {
	for _, re := range p.synonyms {
		if re.MatchString(q) {
			return true
		}
	}
	return false
}

func mentionsFund(q string) bool {
	for _, ind := range fundIndicators {
		if strings.Contains(q, ind) {
			return true
		}
	}
	return false
}
