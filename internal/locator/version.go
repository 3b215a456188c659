package locator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Version is the backend's self-reported version.
type Version struct {
	Raw   string
	Major int
	Minor int
	Patch int
}

// ParseVersion parses backend --version output such as "3.14.2" or
// "invest 3.14.2.post12+gabc". Suffixes after the patch number are kept
// only in Raw.
func ParseVersion(output string) (Version, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	// Take the last line and the first field that starts with a digit.
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	var token string
	for _, field := range strings.Fields(last) {
		field = strings.TrimPrefix(field, "v")
		if field != "" && unicode.IsDigit(rune(field[0])) {
			token = field
			break
		}
	}
	if token == "" {
		return Version{}, fmt.Errorf("invalid version format: %q", trimmed)
	}

	v := Version{Raw: token}
	var rest string
	v.Major, rest = parseIntPrefix(token)
	if rest == "" || rest[0] != '.' {
		return v, nil
	}
	v.Minor, rest = parseIntPrefix(rest[1:])
	if rest == "" || rest[0] != '.' {
		return v, nil
	}
	v.Patch, _ = parseIntPrefix(rest[1:])
	return v, nil
}

func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func parseIntPrefix(value string) (int, string) {
	i := 0
	for i < len(value) && unicode.IsDigit(rune(value[i])) {
		i++
	}
	if i == 0 {
		return 0, value
	}
	num, _ := strconv.Atoi(value[:i])
	return num, value[i:]
}
