package modules

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single regular expression evaluation.
const MatchTimeout = 2 * time.Second

func compile(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("re: %w", err)
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

// Match reports whether s contains a match of pattern.
func Match(pattern, s string) (bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s)
}

// Find returns the first match of pattern in s and whether one was found.
func Find(pattern, s string) (string, bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return "", false, err
	}
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return "", false, err
	}
	return m.String(), true, nil
}

// FindAll returns every non-overlapping match of pattern in s.
func FindAll(pattern, s string) ([]string, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	out := []string{}
	m, err := re.FindStringMatch(s)
	for m != nil && err == nil {
		out = append(out, m.String())
		m, err = re.FindNextMatch(m)
	}
	return out, err
}

// Replace substitutes every match of pattern in s. The replacement may
// reference groups as $1 or ${name}.
func Replace(pattern, s, replacement string) (string, error) {
	re, err := compile(pattern)
	if err != nil {
		return "", err
	}
	return re.Replace(s, replacement, -1, -1)
}

// Split slices s around each match of pattern.
func Split(pattern, s string) ([]string, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	out := []string{}
	last := 0
	m, err := re.FindStringMatch(s)
	for m != nil && err == nil {
		if m.Length == 0 && m.Index == last {
			m, err = re.FindNextMatch(m)
			continue
		}
		out = append(out, string(runes[last:m.Index]))
		last = m.Index + m.Length
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		return nil, err
	}
	return append(out, string(runes[last:])), nil
}
