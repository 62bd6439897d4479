package youtubeapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ShortsProber classifies a video by requesting its /shorts/ URL without
// following redirects: Shorts serve a 200, regular videos redirect to /watch.
// Used only when the Data API reports no duration yet.
type ShortsProber struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p *ShortsProber) base() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return "https://www.youtube.com"
}

func (p *ShortsProber) http() *http.Client {
	base := p.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	c := *base
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

// IsShort reports whether the video is a Short.
func (p *ShortsProber) IsShort(ctx context.Context, videoID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base()+"/shorts/"+videoID, nil)
	if err != nil {
		return false, err
	}
	// Consumer pages reject requests without a browser UA.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	resp, err := p.http().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return false, nil
	default:
		return false, fmt.Errorf("shorts probe for %s: unexpected status %s", videoID, resp.Status)
	}
}
