package ingest

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// ProbeResult is what a HEAD request tells us about a remote resource.
type ProbeResult struct {
	StatusCode    int
	ContentType   string
	ContentLength string
}

// Prober checks that a URL is reachable and reports its content metadata.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

// HTTPProber issues a HEAD request so the media itself is never downloaded
// here; fetching is left to the provider.
type HTTPProber struct {
	http *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 8 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ProbeResult{}, err
	}
	req.Header.Set("User-Agent", "allthethings-ingest")

	resp, err := p.http.Do(req)
	if err != nil {
		return ProbeResult{}, err
	}
	_ = resp.Body.Close()

	return ProbeResult{
		StatusCode:    resp.StatusCode,
		ContentType:   strings.TrimSpace(resp.Header.Get("Content-Type")),
		ContentLength: strings.TrimSpace(resp.Header.Get("Content-Length")),
	}, nil
}
