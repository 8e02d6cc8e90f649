package deps

import (
	"fmt"
	"strconv"
	"strings"
)

type version struct {
	release  []int
	revision int    // numeric suffix after '-', as in rock revisions
	pre      string // any other suffix; sorts before the release
}

func (v version) part(i int) int {
	if i < len(v.release) {
		return v.release[i]
	}
	return 0
}

// parseVersion reads "1.2.3", "v1.2", "1.2-1" and "1.0.0-beta.1".
func parseVersion(s string) (version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return version{}, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}

	rel, suffix := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		rel, suffix = s[:i], s[i+1:]
	}

	var v version
	for _, field := range strings.Split(rel, ".") {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		v.release = append(v.release, n)
	}
	if suffix != "" {
		if n, err := strconv.Atoi(suffix); err == nil && n >= 0 {
			v.revision = n
		} else {
			v.pre = suffix
		}
	}
	return v, nil
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or
// newer than b. Missing release components count as zero.
func CompareVersions(a, b string) (int, error) {
	va, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	return compareParsed(va, vb), nil
}

func compareParsed(a, b version) int {
	n := max(len(a.release), len(b.release))
	for i := 0; i < n; i++ {
		if c := cmpInt(a.part(i), b.part(i)); c != 0 {
			return c
		}
	}
	switch {
	case a.pre != "" && b.pre == "":
		return -1
	case a.pre == "" && b.pre != "":
		return 1
	case a.pre != b.pre:
		return strings.Compare(a.pre, b.pre)
	}
	return cmpInt(a.revision, b.revision)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
