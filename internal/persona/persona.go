// Package persona keeps the registry of chat personas ("shapes"): the fixed
// built-ins plus the ones a user registers from a vanity URL.
package persona

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Registration failures.
var (
	ErrInvalidReference  = errors.New("invalid URL format, please enter a valid URL")
	ErrUntrustedSource   = errors.New("URL is not from the trusted persona domain")
	ErrMissingIdentifier = errors.New("no persona id found in URL")
)

// Persona is a chat counterpart identified by a slug.
type Persona struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	// AvatarURL is empty when the UI should fall back to Glyph.
	AvatarURL string `json:"avatarUrl,omitempty"`
	BuiltIn   bool   `json:"isBuiltIn"`
}

// Glyph is the fallback avatar text for the persona.
func (p Persona) Glyph() string { return Glyph(p.DisplayName) }

var builtIns = []Persona{
	{ID: "general", DisplayName: "General", BuiltIn: true},
	{ID: "algebra", DisplayName: "Algebra Bot", BuiltIn: true},
	{ID: "logic", DisplayName: "Logic Bot", BuiltIn: true},
	{ID: "geometry", DisplayName: "Geometry Bot", BuiltIn: true},
}

// BuiltIns returns a copy of the personas that ship pre-registered.
func BuiltIns() []Persona {
	out := make([]Persona, len(builtIns))
	copy(out, builtIns)
	return out
}

// DeriveName turns a slug like "bella-donna" into "Bella Donna".
func DeriveName(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Glyph returns up to two upper-case initials of name.
func Glyph(name string) string {
	var b strings.Builder
	n := 0
	for _, part := range strings.Split(name, " ") {
		r, size := utf8.DecodeRuneInString(part)
		if size == 0 {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if n++; n == 2 {
			break
		}
	}
	return b.String()
}

// ParseVanityURL extracts the persona id from https://<domain>/<id>[/...].
// Input without a scheme is retried with https:// prepended.
func ParseVanityURL(raw, domain string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidReference
	}
	u, err := parseAbsolute(raw)
	if err != nil {
		u, err = parseAbsolute("https://" + raw)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}

	if !trustedHost(u.Hostname(), domain) {
		return "", fmt.Errorf("%w: %s", ErrUntrustedSource, u.Hostname())
	}

	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return strings.ToLower(seg), nil
		}
	}
	return "", fmt.Errorf("%w, format should be https://%s/persona-id", ErrMissingIdentifier, domain)
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" || u.Hostname() == "" {
		return nil, errors.New("not an absolute URL")
	}
	return u, nil
}

func trustedHost(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
