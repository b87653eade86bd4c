package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// RenderedPage is what any renderer (JS-capable or the HTTP fallback)
// produces for one URL.
type RenderedPage struct {
	HTML          string
	Markdown      string // empty unless the renderer does HTML-to-markdown itself
	Links         []string
	DocumentLinks []string
	FinalURL      string
}

// Renderer fetches and renders one page. A full JavaScript-capable renderer
// is preferred; HTTPRenderer is the fallback when none is configured.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*RenderedPage, error)
}

// HTTPRenderer is the plain-HTTP fallback: fetch the page, extract links
// from the HTML alone, no JavaScript execution. Grounded on
// executor/http_executor.go's request-with-context-then-read-body idiom.
type HTTPRenderer struct {
	Client             *http.Client
	DocumentExtensions []string
}

func NewHTTPRenderer(documentExtensions []string) *HTTPRenderer {
	return &HTTPRenderer{
		Client:             &http.Client{Timeout: 30 * time.Second},
		DocumentExtensions: documentExtensions,
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (*RenderedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	page := &RenderedPage{HTML: string(body), FinalURL: resp.Request.URL.String()}
	links, docs, err := extractLinks(page.HTML, page.FinalURL, r.DocumentExtensions)
	if err != nil {
		return page, err
	}
	page.Links = links
	page.DocumentLinks = docs
	return page, nil
}

// extractLinks walks the parsed HTML tree for <a href> targets, resolving
// each against the page's base URL and splitting out document-extension
// links from ordinary page links.
func extractLinks(rawHTML, baseURL string, documentExtensions []string) (links, documents []string, err error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil, err
	}

	node, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, nil, err
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, perr := url.Parse(attr.Val)
				if perr != nil {
					continue
				}
				resolved := base.ResolveReference(ref).String()
				if isDocumentLink(resolved, documentExtensions) {
					documents = append(documents, resolved)
				} else {
					links = append(links, resolved)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return links, documents, nil
}

func isDocumentLink(link string, extensions []string) bool {
	lower := strings.ToLower(link)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// ContentHash is the SHA-256 hex digest of a page's HTML.
func ContentHash(htmlContent string) string {
	sum := sha256.Sum256([]byte(htmlContent))
	return hex.EncodeToString(sum[:])
}
