package finding

import (
	"net/url"
	"strings"
)

// Location is where a piece of evidence was observed: the full request URI
// and the HTTP method used to reach it.
type Location struct {
	URI    string `json:"uri"`
	Method string `json:"method"`
}

// NewLocation creates a Location, upper-casing the method.
func NewLocation(method, uri string) Location {
	return Location{URI: uri, Method: strings.ToUpper(method)}
}

// URL returns the URI without its query string and fragment.
// Unparseable URIs are cut at the first '?' or '#'.
func (l Location) URL() string {
	u, err := url.Parse(l.URI)
	if err != nil {
		if i := strings.IndexAny(l.URI, "?#"); i >= 0 {
			return l.URI[:i]
		}
		return l.URI
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.URI == "" && l.Method == ""
}

// String returns "METHOD URI".
func (l Location) String() string {
	if l.Method == "" {
		return l.URI
	}
	return l.Method + " " + l.URI
}
