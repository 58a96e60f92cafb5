package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// DefaultWaybackEndpoint is the Internet Archive availability API base.
const DefaultWaybackEndpoint = "https://archive.org/wayback"

// Wayback looks pages up through the Internet Archive availability API and
// fetches the closest snapshot.
type Wayback struct {
	client   crawler.HTTPClient
	endpoint string
}

// NewWayback creates a Wayback backend. An empty endpoint uses DefaultWaybackEndpoint.
func NewWayback(client crawler.HTTPClient, endpoint string) *Wayback {
	if endpoint == "" {
		endpoint = DefaultWaybackEndpoint
	}
	return &Wayback{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

// Via implements Backend.
func (w *Wayback) Via() crawler.Via { return crawler.ViaInternetArchive }

type availableResponse struct {
	URL               string `json:"url"`
	ArchivedSnapshots struct {
		Closest *struct {
			Status    string `json:"status"`
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Lookup implements Backend.
func (w *Wayback) Lookup(ctx context.Context, pageURL string) (crawler.FetchResponse, bool, error) {
	apiURL := w.endpoint + "/available?url=" + url.QueryEscape(pageURL)
	resp, err := w.client.Get(ctx, apiURL, nil)
	if err != nil {
		return crawler.FetchResponse{}, false, fmt.Errorf("wayback availability: %w", err)
	}

	var available availableResponse
	if err := json.Unmarshal(resp.Body, &available); err != nil {
		return crawler.FetchResponse{}, false, fmt.Errorf("wayback availability: %w",
			crawler.NewFetchError(crawler.KindDecode, err))
	}
	closest := available.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return crawler.FetchResponse{}, false, nil
	}
	status, err := strconv.Atoi(closest.Status)
	if err != nil || status < 200 || status > 299 {
		return crawler.FetchResponse{}, false, nil
	}

	snapshot, err := w.client.Get(ctx, closest.URL, nil)
	if err != nil {
		return crawler.FetchResponse{}, false, fmt.Errorf("wayback snapshot %s: %w", closest.Timestamp, err)
	}
	return snapshot, true, nil
}
