// Package media finds audio and image links in reply text so renderers can
// embed players and viewers. It never rewrites the text itself.
package media

import (
	"regexp"
	"strings"
)

// Kind of an embedded attachment.
type Kind string

const (
	Audio Kind = "audio"
	Image Kind = "image"
)

// DefaultHost serves generated audio and images.
const DefaultHost = "files.shapes.inc"

// Attachment is a media link found in message content.
type Attachment struct {
	Kind Kind   `json:"kind"`
	URL  string `json:"url"`
	// Name is the last path element, used as a caption.
	Name string `json:"name"`
}

// Segment is either plain text or an attachment, in content order.
type Segment struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Scanner recognises media URLs on a single host.
type Scanner struct {
	pattern *regexp.Regexp
}

// NewScanner matches https?://<host>/<name>.<ext> for the supported audio and
// image extensions.
func NewScanner(host string) *Scanner {
	if host == "" {
		host = DefaultHost
	}
	return &Scanner{
		pattern: regexp.MustCompile(`https?://` + regexp.QuoteMeta(host) + `/[a-zA-Z0-9_-]+\.(?:mp3|png|jpeg|jpg|gif|webp)`),
	}
}

var defaultScanner = NewScanner(DefaultHost)

// Scan uses the default media host.
func Scan(content string) []Attachment { return defaultScanner.Scan(content) }

// Segments uses the default media host.
func Segments(content string) []Segment { return defaultScanner.Segments(content) }

// Scan returns the attachments in order of appearance.
func (s *Scanner) Scan(content string) []Attachment {
	var out []Attachment
	for _, u := range s.pattern.FindAllString(content, -1) {
		out = append(out, attachment(u))
	}
	return out
}

// Segments splits content around attachments. Concatenating the Text of the
// text segments and the URL of the attachment segments yields content.
func (s *Scanner) Segments(content string) []Segment {
	var out []Segment
	last := 0
	for _, loc := range s.pattern.FindAllStringIndex(content, -1) {
		if loc[0] > last {
			out = append(out, Segment{Text: content[last:loc[0]]})
		}
		a := attachment(content[loc[0]:loc[1]])
		out = append(out, Segment{Attachment: &a})
		last = loc[1]
	}
	if last < len(content) {
		out = append(out, Segment{Text: content[last:]})
	}
	return out
}

func attachment(u string) Attachment {
	kind := Image
	if strings.HasSuffix(strings.ToLower(u), ".mp3") {
		kind = Audio
	}
	return Attachment{Kind: kind, URL: u, Name: u[strings.LastIndex(u, "/")+1:]}
}
