// Package guard screens user questions before they reach the retrieval
// engine. It rejects questions that carry personal identifiers and
// comparisons that ask for performance or advice rather than facts.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrPII is matched by rejections caused by personal information.
	ErrPII = errors.New("question contains personal information")

	// ErrComparison is matched by rejections of disallowed comparisons.
	ErrComparison = errors.New("comparison is not allowed")
)

// PII kinds reported by DetectPII.
const (
	PAN     = "PAN card number"
	Aadhaar = "Aadhaar number"
	Account = "Account number"
	OTP     = "OTP"
	Email   = "Email address"
	Phone   = "Phone number"
)

const (
	comparisonDisallowedMsg  = "I can only compare mutual funds on factual parameters like expense ratio, lock-in period, benchmark, or portfolio mix. I cannot compare performance, returns, or provide recommendations on which fund is better."
	comparisonUnspecifiedMsg = "I can only compare mutual funds on factual parameters like expense ratio, lock-in period, benchmark, or portfolio mix. Please specify which factual parameters you want to compare."
)

var (
	panPattern      = regexp.MustCompile(`(?i)\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	aadhaarPattern  = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
	accountPattern  = regexp.MustCompile(`\b\d{9,18}\b`)
	accountKeywords = regexp.MustCompile(`(?i)(account|acc|a/c|ac no)`)
	otpPattern      = regexp.MustCompile(`(?i)\b(otp|one.?time.?password)[\s:]*\d{4,8}\b`)
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern    = regexp.MustCompile(`\b(\+?91[\s-]?)?[6-9]\d{9}\b`)
	yearPattern     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	amountPattern   = regexp.MustCompile(`(?i)₹|\brs\.?|\brupees?\b`)
)

var (
	comparisonKeywords = []string{
		"compare", "comparison", "vs", "versus", "better", "best",
		"which is better", "which one is better", "difference between",
		"differences", "which should", "should i choose", "recommend",
	}
	disallowedKeywords = []string{
		"performance", "returns", "return", "roi", "profit", "loss",
		"gain", "growth", "appreciation", "depreciation", "yield",
		"better", "best", "worst", "should i", "recommend", "advice",
		"suggest", "opinion", "which is better", "which one is better",
	}
	allowedKeywords = []string{
		"expense ratio", "lock-in", "lock in", "benchmark", "portfolio mix",
		"fund category", "fund type", "risk level", "minimum investment",
		"minimum sip", "exit load", "fund manager", "fund house",
	}
)

// Rejection explains why a question was refused. Message is safe to show
// to the user.
type Rejection struct {
	Kind    error
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func (r *Rejection) Unwrap() error { return r.Kind }

// Check runs every screen over question and returns the first rejection,
// or nil when the question may be answered.
func Check(question string) error {
	if kind, found := DetectPII(question); found {
		return &Rejection{
			Kind: ErrPII,
			Message: fmt.Sprintf("I cannot process questions containing personally identifiable information (PII) such as %s. "+
				"For your privacy and security, please do not enter sensitive information like PAN numbers, Aadhaar numbers, "+
				"account details, phone numbers, or email addresses. Please rephrase your question without any sensitive information.", kind),
		}
	}
	return CheckComparison(question)
}

// DetectPII reports the first kind of personal identifier found in text.
func DetectPII(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	switch {
	case panPattern.MatchString(text):
		return PAN, true
	case aadhaarPattern.MatchString(text):
		return Aadhaar, true
	case accountPattern.MatchString(text) && accountKeywords.MatchString(text):
		return Account, true
	case otpPattern.MatchString(text):
		return OTP, true
	case emailPattern.MatchString(text):
		return Email, true
	}
	// Years and amounts produce ten digit runs that are not phone numbers.
	if phonePattern.MatchString(text) && !yearPattern.MatchString(text) && !amountPattern.MatchString(text) {
		return Phone, true
	}
	return "", false
}

// CheckComparison allows comparisons only on factual parameters.
// Disallowed keywords are checked before allowed ones, so "which has the
// better expense ratio" is still refused.
func CheckComparison(question string) error {
	q := strings.ToLower(question)
	if !containsAny(q, comparisonKeywords) {
		return nil
	}
	if containsAny(q, disallowedKeywords) {
		return &Rejection{Kind: ErrComparison, Message: comparisonDisallowedMsg}
	}
	if !containsAny(q, allowedKeywords) {
		return &Rejection{Kind: ErrComparison, Message: comparisonUnspecifiedMsg}
	}
	return nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
