// Package version orders dotted changelog versions such as "2.1.x" and "2.1.0-12ab34".
//
// Only major and minor take part in ordering when either side carries a wildcard
// patch. A wildcard stands for the whole minor line, so "2.1.x" compares equal
// to "2.1.0" and "2.1.7" alike.
package version

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"provenance/internal/core/errors"
)

// Wildcard is the patch marker used by catalog versions.
const Wildcard = "x"

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+|[xX*])?`)

// Version is a parsed version tag. Patch is meaningful only when Wildcard is false.
type Version struct {
	Major    int
	Minor    int
	Patch    int
	Wildcard bool
}

// Parse reads the first major.minor.patch group in s. Trailing build
// qualifiers ("-12ab34", " SNAPSHOT Build 12ab34") are ignored.
func Parse(s string) (Version, error) {
	var v Version
	if strings.TrimSpace(s) == "" {
		return v, errors.New(errors.CodeValidationError, "version must not be empty")
	}
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return v, errors.Newf(errors.CodeValidationError, "version string '%s' does not match 'major.minor.' pattern", s)
	}
	var err error
	if v.Major, err = strconv.Atoi(m[1]); err != nil {
		return v, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid major in '%s'", s))
	}
	if v.Minor, err = strconv.Atoi(m[2]); err != nil {
		return v, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid minor in '%s'", s))
	}
	switch m[3] {
	case "":
		return v, errors.Newf(errors.CodeValidationError, "version string '%s' has no patch segment", s)
	case "x", "X", "*":
		v.Wildcard = true
	default:
		if v.Patch, err = strconv.Atoi(m[3]); err != nil {
			return v, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid patch in '%s'", s))
		}
	}
	return v, nil
}

// DotX returns the minor line of v, e.g. "2.1.x".
func (v Version) DotX() string {
	return fmt.Sprintf("%d.%d.%s", v.Major, v.Minor, Wildcard)
}

func (v Version) String() string {
	if v.Wildcard {
		return v.DotX()
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmpInt(v.Minor, o.Minor); c != 0 {
		return c
	}
	if v.Wildcard || o.Wildcard {
		return 0
	}
	return cmpInt(v.Patch, o.Patch)
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

// AsDotX reduces s to its "major.minor.x" minor line.
func AsDotX(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", errors.New(errors.CodeValidationError, "version must not be empty")
	}
	m := versionPattern.FindStringSubmatchIndex(s)
	if m == nil {
		return "", errors.Newf(errors.CodeValidationError, "version string '%s' does not match 'major.minor.' pattern", s)
	}
	return s[m[2]:m[3]] + "." + s[m[4]:m[5]] + "." + Wildcard, nil
}

// Compare parses and compares two version strings.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

type parsed struct {
	raw string
	v   Version
}

func parseAll(versions []string) ([]parsed, error) {
	out := make([]parsed, 0, len(versions))
	for _, raw := range versions {
		v, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed{raw: raw, v: v})
	}
	return out, nil
}

// SortAscending returns a sorted copy of versions, oldest first.
func SortAscending(versions []string) ([]string, error) {
	return sortVersions(versions, 1)
}

// SortDescending returns a sorted copy of versions, newest first.
func SortDescending(versions []string) ([]string, error) {
	return sortVersions(versions, -1)
}

func sortVersions(versions []string, dir int) ([]string, error) {
	items, err := parseAll(versions)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b parsed) int {
		if c := a.v.Compare(b.v); c != 0 {
			return c * dir
		}
		// equal minor lines keep a stable, readable order
		return strings.Compare(a.raw, b.raw)
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.raw
	}
	return out, nil
}

// Max returns the greatest version, or false when versions is empty.
func Max(versions []string) (string, bool, error) {
	sorted, err := SortDescending(versions)
	if err != nil {
		return "", false, err
	}
	if len(sorted) == 0 {
		return "", false, nil
	}
	return sorted[0], true, nil
}
