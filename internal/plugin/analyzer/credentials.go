package analyzer

import "regexp"

// credentialPatterns name the credential concepts a plugin may expect.
// Matches are hints for configuration, not a security control.
var credentialPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"api_key", regexp.MustCompile(`(?i)api[_-]?key`)},
	{"api_secret", regexp.MustCompile(`(?i)api[_-]?secret`)},
	{"token", regexp.MustCompile(`(?i)token`)},
	{"password", regexp.MustCompile(`(?i)password`)},
	{"auth_key", regexp.MustCompile(`(?i)auth[_-]?key`)},
}

// Credentials returns the credential names whose pattern occurs in src,
// each once, in table order.
func Credentials(src []byte) []string {
	out := []string{}
	for _, c := range credentialPatterns {
		if c.pattern.Match(src) {
			out = append(out, c.name)
		}
	}
	return out
}
