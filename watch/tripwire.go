package watch

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by metadata sources. Implementations wrap these so
// the session can tell a quota problem from an ordinary network failure.
var (
	// ErrQuotaExceeded marks a single credential hitting its rate limit.
	ErrQuotaExceeded = errors.New("api quota exceeded")
	// ErrCredentialsExhausted marks the whole credential pool being unusable.
	ErrCredentialsExhausted = errors.New("all api credentials exhausted")
)

// Upload is one entry from a channel's recent uploads, newest first.
type Upload struct {
	ID              string
	Title           string
	DurationSeconds int
	Published       time.Time
}

// MetadataSource is the video-platform metadata collaborator. VideoCount is
// the cheap call used by the tripwire; RecentUploads and VideoDuration are
// the more expensive calls used only after the tripwire fires.
type MetadataSource interface {
	VideoCount(ctx context.Context, channelID string) (int64, error)
	RecentUploads(ctx context.Context, channelID string, n int) ([]Upload, error)
	VideoDuration(ctx context.Context, videoID string) (int, error)
}

// Prober optionally resolves an Unknown classification by probing the
// platform's short-form URL path for the video.
type Prober interface {
	IsShort(ctx context.Context, videoID string) (bool, error)
}

// ChangeKind tags the tripwire outcome.
type ChangeKind int

const (
	// ChangeUnchanged means the upload count did not increase.
	ChangeUnchanged ChangeKind = iota
	// ChangeIncreased means the upload count went up by Delta.
	ChangeIncreased
	// ChangeFetchFailed means the count could not be fetched. Never treated
	// as "no new video".
	ChangeFetchFailed
)

// CountChange is the tripwire result.
type CountChange struct {
	Kind  ChangeKind
	Count int64
	Delta int64
	Err   error
}

// CheckUploadCount fetches the channel's current upload count and compares it
// to the previously recorded one. A decreased count (video deletion) clamps
// to Unchanged rather than producing a spurious detection.
func CheckUploadCount(ctx context.Context, src MetadataSource, channelID string, last int64) CountChange {
	count, err := src.VideoCount(ctx, channelID)
	if err != nil {
		return CountChange{Kind: ChangeFetchFailed, Count: last, Err: err}
	}
	if count <= last {
		return CountChange{Kind: ChangeUnchanged, Count: last}
	}
	return CountChange{Kind: ChangeIncreased, Count: count, Delta: count - last}
}
