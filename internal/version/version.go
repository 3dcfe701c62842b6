// Package version implements the package-manager version comparator
// described in spec.md 4.1: a segmented alpha/numeric ordering over version
// strings, with optional epoch and release-segment support.
//
// The algorithm is the one libalpm/pacman calls vercmp, not semver: two
// version strings are compared position by position, skipping leading
// non-alphanumeric separators on both sides, comparing maximal numeric runs
// numerically and maximal alphabetic runs lexically, with a longer side
// winning when the other is exhausted.
package version

import (
	"strconv"
	"strings"
)

// Compare orders two version strings. It returns -1, 0 or 1 exactly as
// strings.Compare does, and is a total order: reflexive, antisymmetric and
// transitive.
func Compare(a, b string) int {
	ea, ra := splitEpoch(a)
	eb, rb := splitEpoch(b)
	if ea != eb {
		if ea < eb {
			return -1
		}
		return 1
	}
	return compareSegments(ra, rb)
}

// IsNewer reports whether candidate orders strictly after current.
func IsNewer(current, candidate string) bool {
	return Compare(candidate, current) > 0
}

// splitEpoch strips a leading "E:" epoch prefix (E a non-negative integer),
// defaulting to epoch 0 when absent.
func splitEpoch(v string) (int64, string) {
	idx := strings.IndexByte(v, ':')
	if idx <= 0 {
		return 0, v
	}
	digits := v[:idx]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, v
		}
	}
	e, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, v
	}
	return e, v[idx+1:]
}

// compareSegments walks both version strings in lockstep, comparing one
// alpha-or-numeric run at a time.
func compareSegments(a, b string) int {
	for {
		a = skipSeparators(a)
		b = skipSeparators(b)

		if a == "" && b == "" {
			return 0
		}
		if a == "" {
			return -1
		}
		if b == "" {
			return 1
		}

		aDigit := isDigit(a[0])
		bDigit := isDigit(b[0])

		switch {
		case aDigit && bDigit:
			var na, nb string
			na, a = takeWhile(a, isDigit)
			nb, b = takeWhile(b, isDigit)
			if c := compareNumeric(na, nb); c != 0 {
				return c
			}
		case !aDigit && !bDigit:
			var sa, sb string
			sa, a = takeWhile(a, isAlpha)
			sb, b = takeWhile(b, isAlpha)
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
		case aDigit && !bDigit:
			return 1
		default: // !aDigit && bDigit
			return -1
		}
	}
}

func skipSeparators(s string) string {
	i := 0
	for i < len(s) && !isDigit(s[i]) && !isAlpha(s[i]) {
		i++
	}
	return s[i:]
}

func takeWhile(s string, pred func(byte) bool) (taken, rest string) {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// compareNumeric compares two digit runs numerically, stripping leading
// zeros first; a longer non-zero run wins, otherwise fall back to lexical
// comparison of the stripped digits.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
