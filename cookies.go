package turnstileproxy

import (
	"fmt"
	"net/http"
	"strings"
)

// Cookie is installed into the browsing context before navigation. Domain
// and Path default to the target URL's when empty.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// ParseCookies reads a Cookie header style list ("a=1; b=2").
func ParseCookies(raw string) ([]Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var cookies []Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie %q", part)
		}
		cookies = append(cookies, Cookie{Name: name, Value: strings.TrimSpace(value)})
	}

	// let net/http reject names that are not valid tokens
	header := http.Header{}
	for _, c := range cookies {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	parsed := (&http.Request{Header: header}).Cookies()
	if len(parsed) != len(cookies) {
		return nil, fmt.Errorf("invalid cookie list %q", raw)
	}
	return cookies, nil
}
