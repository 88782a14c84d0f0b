package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		question string
		want     Classification
	}{
		{"What is the AUM of Fund X?", Classification{}},
		{"Show me AUM for all funds", Classification{ParameterWide: true, Parameter: "aum"}},
		{"What is the expense ratio?", Classification{ParameterWide: true, Parameter: "expense_ratio"}},
		{"Expense ratio of Alpha Flexi Cap Fund", Classification{}},
		{"List the NAV of every fund", Classification{ParameterWide: true, Parameter: "nav"}},
		{"Compare fund size for the flexi cap schemes", Classification{ParameterWide: true, Parameter: "fund_size"}},
		{"Returns of Beta Small Cap Fund", Classification{}},
		{"What is the riskometer?", Classification{ParameterWide: true, Parameter: "risk_level"}},
		{"What happens after redemption?", Classification{}},
		{"How do I download my statement?", Classification{}},
		{"", Classification{}},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.question))
		})
	}
}

func TestClassify_FirstParameterWins(t *testing.T) {
	// "aum" precedes "nav" in the table.
	got := Classify("show aum and nav")
	assert.Equal(t, "aum", got.Parameter)
}
