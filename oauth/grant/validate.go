package grant

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Character classes from RFC 6749 Appendix A.
var (
	ncharRe   = regexp.MustCompile(`^[-._\w]+$`)
	nqscharRe = regexp.MustCompile(`^[\x20-\x21\x23-\x5B\x5D-\x7E]+$`)
	uriRe     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+:`)
	vscharRe  = regexp.MustCompile(`^[\x20-\x7E]+$`)
)

func isNChar(s string) bool   { return ncharRe.MatchString(s) }
func isNQSChar(s string) bool { return nqscharRe.MatchString(s) }
func isURI(s string) bool     { return uriRe.MatchString(s) }
func isVSChar(s string) bool  { return vscharRe.MatchString(s) }

func isUChar(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, utf8.RuneError)
}
