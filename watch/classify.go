// Package watch implements the channel-upload detection core: a cheap
// upload-count tripwire, a duration classifier that separates Shorts from
// long-form videos, a latest-long-form resolver, and the poll-loop session
// that ties them together with transcript fetching.
package watch

// shortMaxSeconds is the platform's duration cutoff for short-form clips.
const shortMaxSeconds = 60

// Classification is the short/long verdict for an upload.
type Classification int

const (
	// ClassUnknown means the duration has not been populated upstream yet.
	// Newly published videos report a zero duration for a short while; treating
	// that as Short would permanently drop a long video, so callers retry once
	// and then fall back to Long.
	ClassUnknown Classification = iota
	// ClassShort is a short-form clip (duration <= 60s).
	ClassShort
	// ClassLong is a regular long-form video.
	ClassLong
)

// String returns a human-readable name for the classification.
func (c Classification) String() string {
	switch c {
	case ClassShort:
		return "short"
	case ClassLong:
		return "long"
	default:
		return "unknown"
	}
}

// ClassifyDuration classifies an upload by its duration in seconds. Zero or
// negative durations are the upstream "not populated yet" sentinel and map to
// ClassUnknown, never ClassShort.
func ClassifyDuration(seconds int) Classification {
	if seconds <= 0 {
		return ClassUnknown
	}
	if seconds <= shortMaxSeconds {
		return ClassShort
	}
	return ClassLong
}
