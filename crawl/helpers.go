package crawl

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string { return uuid.NewString() }

var documentHTTPClient = &http.Client{Timeout: 60 * time.Second}

func fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := documentHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func documentFilename(rawURL string) string {
	if strings.HasSuffix(strings.SplitN(rawURL, "?", 2)[0], "/") {
		return "document"
	}
	name := path.Base(rawURL)
	if name == "" || name == "." || name == "/" {
		return "document"
	}
	return strings.SplitN(name, "?", 2)[0]
}
