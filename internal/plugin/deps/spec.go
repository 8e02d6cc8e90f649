package deps

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Constraint operators, longest first so ">=" wins over ">".
var operators = []string{">=", "<=", "==", "!=", "~=", "~>", ">", "<", "^", "~", "="}

// OpRange marks an npm-style name@range specifier.
const OpRange = "@"

var namePattern = regexp.MustCompile(`^(@[A-Za-z0-9._-]+/)?[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// Spec is a parsed dependency specifier.
type Spec struct {
	// Name is the package name as written.
	Name string
	// Op is a comparison operator, OpRange, or empty when unconstrained.
	Op string
	// Version is the operand of Op.
	Version string
	// Raw is the specifier as given.
	Raw string
}

// ParseSpec parses "name", "name<op>version" or "name@range".
func ParseSpec(s string) (Spec, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Spec{}, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	// npm form; a leading @ belongs to a scoped name.
	if i := strings.LastIndexByte(raw, '@'); i > 0 {
		spec := Spec{Name: raw[:i], Raw: raw}
		rng := strings.TrimSpace(raw[i+1:])
		if rng != "" && rng != "*" && rng != "latest" {
			spec.Op, spec.Version = OpRange, rng
		}
		return spec.validate()
	}

	i := strings.IndexAny(raw, "<>=!~^")
	if i < 0 {
		return Spec{Name: raw, Raw: raw}.validate()
	}
	spec := Spec{Name: strings.TrimSpace(raw[:i]), Raw: raw}
	rest := raw[i:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			spec.Op = op
			spec.Version = strings.TrimSpace(rest[len(op):])
			break
		}
	}
	if spec.Op == "" || spec.Version == "" {
		return Spec{}, fmt.Errorf("%w: %q has no version after its operator", ErrInvalidSpec, raw)
	}
	if spec.Op == "=" {
		spec.Op = "=="
	}
	return spec.validate()
}

func (s Spec) validate() (Spec, error) {
	if !namePattern.MatchString(s.Name) {
		return Spec{}, fmt.Errorf("%w: bad package name %q", ErrInvalidSpec, s.Name)
	}
	return s, nil
}

// Key returns the snapshot key for the package.
func (s Spec) Key() string {
	return strings.ToLower(s.Name)
}

// Constrained reports whether the spec carries a version constraint.
func (s Spec) Constrained() bool {
	return s.Op != ""
}

// Unconstrained returns the bare package spec.
func (s Spec) Unconstrained() Spec {
	return Spec{Name: s.Name, Raw: s.Name}
}

// String returns the specifier as given.
func (s Spec) String() string {
	if s.Raw != "" {
		return s.Raw
	}
	if s.Op == OpRange {
		return s.Name + "@" + s.Version
	}
	return s.Name + s.Op + s.Version
}

// Range returns the constraint in npm range syntax, or "" when unconstrained.
func (s Spec) Range() string {
	switch s.Op {
	case "":
		return ""
	case OpRange:
		return s.Version
	case "==":
		return s.Version
	case "~=", "~>":
		return "~" + s.Version
	default:
		return s.Op + s.Version
	}
}

// Satisfied reports whether installed meets the constraint. Range, caret
// and tilde constraints use semantic-version rules; comparison operators
// compare dotted release numbers, so Lua rock revisions such as "1.2-1"
// are understood.
func (s Spec) Satisfied(installed string) (bool, error) {
	if !s.Constrained() {
		return true, nil
	}
	switch s.Op {
	case OpRange, "^", "~":
		return semverSatisfies(s.Range(), installed)
	case "~=", "~>":
		return compatible(installed, s.Version)
	}

	cmp, err := CompareVersions(installed, s.Version)
	if err != nil {
		return false, err
	}
	switch s.Op {
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidSpec, s.Op)
}

func semverSatisfies(rng, installed string) (bool, error) {
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return false, fmt.Errorf("%w: range %q: %v", ErrInvalidVersion, rng, err)
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, installed, err)
	}
	return c.Check(v), nil
}

// compatible implements "~=" and "~>": at least want, with every release
// component but the last held fixed.
func compatible(installed, want string) (bool, error) {
	have, err := parseVersion(installed)
	if err != nil {
		return false, err
	}
	floor, err := parseVersion(want)
	if err != nil {
		return false, err
	}
	if compareParsed(have, floor) < 0 {
		return false, nil
	}
	fixed := len(floor.release) - 1
	if fixed < 1 {
		fixed = 1
	}
	for i := 0; i < fixed; i++ {
		if have.part(i) != floor.part(i) {
			return false, nil
		}
	}
	return true, nil
}
