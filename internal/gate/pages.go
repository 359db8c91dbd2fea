package gate

import "strings"

// LoginPages classifies request paths as the login/landing page, which is
// never gated.
type LoginPages struct {
	names []string
}

// DefaultLoginPages matches the historical rule: a path containing
// "index.html", ending in "/", or empty.
var DefaultLoginPages = NewLoginPages(nil)

func NewLoginPages(names []string) LoginPages {
	if len(names) == 0 {
		names = []string{"index.html"}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return LoginPages{names: out}
}

func (l LoginPages) IsLoginPage(path string) bool {
	if path == "" || strings.HasSuffix(path, "/") {
		return true
	}
	for _, n := range l.names {
		if strings.Contains(path, n) {
			return true
		}
	}
	return false
}
