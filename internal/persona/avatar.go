package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"github.com/comigor/shapeschat/internal/logger"
)

const maxProfileBytes = 1 << 20

// AvatarFetcher looks up avatars on the public profile endpoint.
type AvatarFetcher struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

// NewAvatarFetcher returns a fetcher for GET <profileURL>/<id>. A nil client
// means http.DefaultClient.
func NewAvatarFetcher(profileURL string, client *http.Client) *AvatarFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &AvatarFetcher{baseURL: strings.TrimRight(profileURL, "/"), client: client}
}

// Fetch returns the avatar URL for id, or "" on any failure. Concurrent
// calls for the same id share one request.
func (f *AvatarFetcher) Fetch(ctx context.Context, id string) string {
	if id == "" || f.baseURL == "" {
		return ""
	}
	v, err, _ := f.group.Do(id, func() (any, error) {
		return f.fetch(ctx, id)
	})
	if err != nil {
		logger.L.Debug("avatar lookup failed", "persona", id, "error", err)
		return ""
	}
	return v.(string)
}

func (f *AvatarFetcher) fetch(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return "", err
	}
	if avatar := avatarFromProfile(body); avatar != "" {
		return avatar, nil
	}
	return "", fmt.Errorf("no avatar in profile for %q", id)
}

// avatarFromProfile picks avatar_url, then avatar, then the og:image of an
// HTML page, then its first absolute <img src>.
func avatarFromProfile(body []byte) string {
	var doc struct {
		AvatarURL string `json:"avatar_url"`
		Avatar    string `json:"avatar"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		if doc.AvatarURL != "" {
			return doc.AvatarURL
		}
		if doc.Avatar != "" {
			return doc.Avatar
		}
		return ""
	}
	return avatarFromHTML(body)
}

func avatarFromHTML(body []byte) string {
	root, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	var ogImage, firstImg string
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > 100 || ogImage != "" {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				prop := getAttr(n, "property")
				if prop == "" {
					prop = getAttr(n, "name")
				}
				if strings.EqualFold(prop, "og:image") {
					ogImage = strings.TrimSpace(getAttr(n, "content"))
				}
			case "img":
				if src := strings.TrimSpace(getAttr(n, "src")); firstImg == "" && isAbsoluteHTTP(src) {
					firstImg = src
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(root, 0)

	if ogImage != "" {
		return ogImage
	}
	return firstImg
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
