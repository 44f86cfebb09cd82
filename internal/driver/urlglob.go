package driver

import (
	"regexp"
	"strings"
)

// CompileURLGlob turns a URL glob into a regexp. "**" matches anything,
// "*" matches anything except "/", "?" matches one character.
func CompileURLGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchURL reports whether url matches the glob pattern
func MatchURL(pattern, url string) bool {
	re, err := CompileURLGlob(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(url)
}
