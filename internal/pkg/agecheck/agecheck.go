package agecheck

import (
	"time"

	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

// Verdict is the ternary outcome of an age decision.
type Verdict string

const (
	VerdictApproved  Verdict = "approved"
	VerdictRejected  Verdict = "rejected"
	VerdictUncertain Verdict = "uncertain"
)

// Defaults for the decision rules. The uncertainty band and the face scan
// sampling constants were tuned empirically; treat them as settings, not
// as values to re-derive.
const (
	DefaultThreshold             = 18
	DefaultUpperUncertaintyBound = 25
)

// Config carries the decision thresholds.
type Config struct {
	// Threshold is the minimum age in whole years.
	Threshold int
	// UpperUncertaintyBound is the estimated age above which an
	// estimation-based sample counts as a clear pass. Estimates between
	// Threshold and this bound are too close to the legal limit to trust.
	UpperUncertaintyBound int
}

// ConfigFromEnv builds a Config from env overrides, falling back to the
// tuned defaults.
func ConfigFromEnv() Config {
	return Config{
		Threshold:             env.GetEnvInt("AGECHECK_THRESHOLD", DefaultThreshold),
		UpperUncertaintyBound: env.GetEnvInt("AGECHECK_UPPER_BOUND", DefaultUpperUncertaintyBound),
	}
}

// DefaultConfig returns the tuned defaults without env lookups.
func DefaultConfig() Config {
	return Config{
		Threshold:             DefaultThreshold,
		UpperUncertaintyBound: DefaultUpperUncertaintyBound,
	}
}

// Decide applies the exact-evidence rule for ages derived from a stated
// birth date (identity provider, document OCR). A documented birth date
// leaves no estimation error, so there is no uncertainty band.
func (c Config) Decide(age int) Verdict {
	if age < c.Threshold {
		return VerdictRejected
	}
	return VerdictApproved
}

// DecideEstimated applies the banded rule for estimation-based evidence.
// Estimation error near the legal threshold is asymmetric: a false pass is
// worse than a re-verification, so estimates inside
// [Threshold, UpperUncertaintyBound] come back uncertain and the caller
// must prompt a retry or a method switch, never silently downgrade.
func (c Config) DecideEstimated(age float64) Verdict {
	if age < float64(c.Threshold) {
		return VerdictRejected
	}
	if age > float64(c.UpperUncertaintyBound) {
		return VerdictApproved
	}
	return VerdictUncertain
}

// AgeAt computes age in whole calendar years at the reference time.
func AgeAt(birthDate, at time.Time) int {
	years := at.Year() - birthDate.Year()
	// Birthday not reached yet this year.
	if at.Month() < birthDate.Month() ||
		(at.Month() == birthDate.Month() && at.Day() < birthDate.Day()) {
		years--
	}
	return years
}
