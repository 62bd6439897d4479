package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"buzzwatch/watch"
)

// Client reads channel metadata through the Data API, rotating keys on quota
// errors. It implements watch.MetadataSource. Endpoint overrides the API base
// URL for tests.
type Client struct {
	Rotator  *KeyRotator
	Endpoint string

	mu              sync.Mutex
	uploadsPlaylist map[string]string
}

// NewClient builds a metadata client over the key pool.
func NewClient(r *KeyRotator) *Client {
	return &Client{Rotator: r, uploadsPlaylist: make(map[string]string)}
}

func (c *Client) service(ctx context.Context, key string) (*yt.Service, error) {
	opts := []option.ClientOption{option.WithAPIKey(key)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// withKeys runs fn, rotating to the next key on quota errors until the pool
// is exhausted. Non-quota errors return immediately.
func (c *Client) withKeys(ctx context.Context, fn func(svc *yt.Service) error) error {
	for {
		key, err := c.Rotator.Next()
		if err != nil {
			return err
		}
		svc, err := c.service(ctx, key)
		if err != nil {
			return fmt.Errorf("youtube service: %w", err)
		}
		err = fn(svc)
		if err == nil {
			return nil
		}
		if isQuotaErr(err) {
			c.Rotator.MarkExhausted(key)
			continue
		}
		return err
	}
}

// isQuotaErr recognizes the Data API's quota refusals.
func isQuotaErr(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == 429 {
		return true
	}
	if gerr.Code != 403 {
		return false
	}
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	// Some 403 quota responses carry no structured reason.
	return strings.Contains(strings.ToLower(gerr.Message), "quota")
}

// VideoCount returns the channel's total upload count from channel statistics.
// This is the 1-unit call the tripwire polls.
func (c *Client) VideoCount(ctx context.Context, channelID string) (int64, error) {
	var count int64
	err := c.withKeys(ctx, func(svc *yt.Service) error {
		resp, err := svc.Channels.List([]string{"statistics"}).Id(channelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return fmt.Errorf("channel %s not found", channelID)
		}
		count = int64(resp.Items[0].Statistics.VideoCount)
		return nil
	})
	return count, err
}

// RecentUploads returns the channel's newest uploads (newest first) with
// durations resolved where the API has them. A brand-new upload can report a
// zero duration for a short while; callers classify that as unknown.
func (c *Client) RecentUploads(ctx context.Context, channelID string, n int) ([]watch.Upload, error) {
	playlist, err := c.uploadsPlaylistID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	var ups []watch.Upload
	err = c.withKeys(ctx, func(svc *yt.Service) error {
		resp, err := svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlist).MaxResults(int64(n)).Context(ctx).Do()
		if err != nil {
			return err
		}
		ups = ups[:0]
		ids := make([]string, 0, len(resp.Items))
		for _, it := range resp.Items {
			id := it.ContentDetails.VideoId
			if id == "" {
				continue
			}
			ids = append(ids, id)
			up := watch.Upload{ID: id, Title: it.Snippet.Title}
			if ts := it.ContentDetails.VideoPublishedAt; ts != "" {
				if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
					up.Published = t
				}
			}
			ups = append(ups, up)
		}
		if len(ids) == 0 {
			return nil
		}
		vresp, err := svc.Videos.List([]string{"contentDetails"}).Id(ids...).Context(ctx).Do()
		if err != nil {
			return err
		}
		durs := make(map[string]int, len(vresp.Items))
		for _, v := range vresp.Items {
			durs[v.Id] = ParseISO8601Duration(v.ContentDetails.Duration)
		}
		for i := range ups {
			ups[i].DurationSeconds = durs[ups[i].ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ups, nil
}

// VideoDuration returns a single video's duration in seconds (0 if the API
// has not populated it yet).
func (c *Client) VideoDuration(ctx context.Context, videoID string) (int, error) {
	var secs int
	err := c.withKeys(ctx, func(svc *yt.Service) error {
		resp, err := svc.Videos.List([]string{"contentDetails"}).Id(videoID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return fmt.Errorf("video %s not found", videoID)
		}
		secs = ParseISO8601Duration(resp.Items[0].ContentDetails.Duration)
		return nil
	})
	return secs, err
}

// uploadsPlaylistID resolves and caches the channel's uploads playlist.
func (c *Client) uploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	c.mu.Lock()
	if c.uploadsPlaylist == nil {
		c.uploadsPlaylist = make(map[string]string)
	}
	if p, ok := c.uploadsPlaylist[channelID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	var playlist string
	err := c.withKeys(ctx, func(svc *yt.Service) error {
		resp, err := svc.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return fmt.Errorf("channel %s not found", channelID)
		}
		playlist = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return "", err
	}
	if playlist == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", channelID)
	}
	c.mu.Lock()
	c.uploadsPlaylist[channelID] = playlist
	c.mu.Unlock()
	return playlist, nil
}

// ParseISO8601Duration converts the API's ISO-8601 duration (e.g. "PT1H2M3S",
// "P1DT4M") to seconds. Malformed input yields 0.
func ParseISO8601Duration(s string) int {
	if s == "" || s[0] != 'P' {
		return 0
	}
	total := 0
	num := 0
	inTime := false
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'T':
			inTime = true
			num = 0
		case r == 'D':
			total += num * 86400
			num = 0
		case r == 'H' && inTime:
			total += num * 3600
			num = 0
		case r == 'M':
			if inTime {
				total += num * 60
			} else {
				total += num * 2592000
			}
			num = 0
		case r == 'S' && inTime:
			total += num
			num = 0
		case r == 'Y':
			total += num * 31536000
			num = 0
		case r == 'W':
			total += num * 604800
			num = 0
		default:
			return 0
		}
	}
	return total
}
