// Package identifier validates the national physician (LANR) and practice
// (BSNR) identifiers extracted from result messages. Validation is purely
// syntactic; resolving an identifier to a person is the mapper's job.
package identifier

import "regexp"

// Verdict is the outcome of a syntactic identifier check. Malformed input
// never produces an error, only a verdict.
type Verdict int

const (
	VerdictValid Verdict = iota
	VerdictMissing
	VerdictInvalidFormat
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictMissing:
		return "missing"
	case VerdictInvalidFormat:
		return "invalid-format"
	default:
		return "unknown"
	}
}

// Both identifiers are fixed at exactly 9 ASCII digits.
var digits9 = regexp.MustCompile(`^[0-9]{9}$`)

// ValidateLANR checks a physician identifier candidate.
func ValidateLANR(candidate string) Verdict {
	return validate(candidate)
}

// ValidateBSNR checks a practice identifier candidate.
func ValidateBSNR(candidate string) Verdict {
	return validate(candidate)
}

func validate(candidate string) Verdict {
	if candidate == "" {
		return VerdictMissing
	}
	if !digits9.MatchString(candidate) {
		return VerdictInvalidFormat
	}
	return VerdictValid
}
