// Package benford compares the leading digits of transaction amounts with
// Benford's law.
package benford

import (
	"math"
	"strings"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Conformity levels for first-digit tests (Nigrini).
const (
	ConformityClose        = "close"
	ConformityAcceptable   = "acceptable"
	ConformityMarginal     = "marginal"
	ConformityNonconform   = "nonconformity"
	ConformityInsufficient = "insufficient_data"
)

// Expected returns the Benford probability of leading digit d.
func Expected(d int) float64 {
	return math.Log10(1 + 1/float64(d))
}

// LeadingDigit returns the first significant digit of a decimal string, or 0
// when there is none.
func LeadingDigit(s string) int {
	s = strings.TrimLeft(strings.TrimPrefix(s, "-"), "0.")
	if s == "" || s[0] < '1' || s[0] > '9' {
		return 0
	}
	return int(s[0] - '0')
}

// Analyze computes the observed leading-digit distribution of the frame's
// amounts. Null amounts and amounts without a significant digit are skipped.
func Analyze(frame *domain.Frame) domain.BenfordResult {
	var counts [10]int
	total := 0
	if frame != nil && frame.Has(frame.Columns.Amount) {
		for _, r := range frame.Records {
			if !r.Amount.Valid {
				continue
			}
			if d := LeadingDigit(r.Amount.Decimal.Abs().String()); d > 0 {
				counts[d]++
				total++
			}
		}
	}
	if total == 0 {
		return domain.BenfordResult{}
	}

	result := domain.BenfordResult{
		Digits:     make([]domain.BenfordDigit, 0, 9),
		SampleSize: total,
	}
	for d := 1; d <= 9; d++ {
		observed := float64(counts[d]) / float64(total)
		expected := Expected(d)
		result.Digits = append(result.Digits, domain.BenfordDigit{
			Digit:    d,
			Observed: observed,
			Expected: expected,
			Delta:    observed - expected,
		})
	}
	return result
}

// MaxAbsDelta returns the largest absolute deviation across digits.
func MaxAbsDelta(r domain.BenfordResult) float64 {
	maxAbs := 0.0
	for _, d := range r.Digits {
		maxAbs = math.Max(maxAbs, math.Abs(d.Delta))
	}
	return maxAbs
}

// MeanAbsDeviation returns the mean absolute deviation across digits.
func MeanAbsDeviation(r domain.BenfordResult) float64 {
	if len(r.Digits) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range r.Digits {
		sum += math.Abs(d.Delta)
	}
	return sum / float64(len(r.Digits))
}

// Conformity grades the distribution using Nigrini's first-digit MAD bands.
func Conformity(r domain.BenfordResult) string {
	if r.SampleSize == 0 {
		return ConformityInsufficient
	}
	switch mad := MeanAbsDeviation(r); {
	case mad <= 0.006:
		return ConformityClose
	case mad <= 0.012:
		return ConformityAcceptable
	case mad <= 0.015:
		return ConformityMarginal
	default:
		return ConformityNonconform
	}
}
