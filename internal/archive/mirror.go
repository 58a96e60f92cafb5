package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// DefaultMirrorEndpoint is the archive.today base URL.
const DefaultMirrorEndpoint = "https://archive.ph"

// The mirror rejects obvious bots, so requests carry a browser header set.
var mirrorHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Encoding": "gzip",
	"Accept-Language": "en-US,en;q=0.5",
}

// Mirror fetches the newest capture of a page from an archive.today mirror.
type Mirror struct {
	client   crawler.HTTPClient
	endpoint string
}

// NewMirror creates a Mirror backend. An empty endpoint uses DefaultMirrorEndpoint.
func NewMirror(client crawler.HTTPClient, endpoint string) *Mirror {
	if endpoint == "" {
		endpoint = DefaultMirrorEndpoint
	}
	return &Mirror{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

// Via implements Backend.
func (m *Mirror) Via() crawler.Via { return crawler.ViaArchiveToday }

// Lookup implements Backend. A 404 means the page was never captured.
func (m *Mirror) Lookup(ctx context.Context, pageURL string) (crawler.FetchResponse, bool, error) {
	resp, err := m.client.Get(ctx, m.endpoint+"/newest/"+pageURL, mirrorHeaders)
	if err != nil {
		var fe *crawler.FetchError
		if errors.As(err, &fe) && fe.Kind == crawler.KindStatus && fe.Status == http.StatusNotFound {
			return crawler.FetchResponse{}, false, nil
		}
		return crawler.FetchResponse{}, false, fmt.Errorf("archive mirror: %w", err)
	}
	return resp, true, nil
}
