// Package forum defines the topic schema served by the forum JSON API and the
// mapping from raw listing/detail bodies into typed records.
package forum

import (
	"bytes"
	"time"
)

// TopicStub is the abbreviated topic returned by the listing endpoint.
type TopicStub struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// CreatedTime parses the stub's creation timestamp.
func (s TopicStub) CreatedTime() (time.Time, error) {
	return ParseTimestamp(s.CreatedAt)
}

// Listing is one page of the topic index.
type Listing struct {
	Topics        []TopicStub
	MoreTopicsURL string
}

// TopicDetail is the normalized record produced for each crawled topic.
// Nullable API fields are pointers or raw JSON so that null survives a round trip.
type TopicDetail struct {
	ID                int64             `json:"id"`
	PostComments      RawJSON           `json:"post_comments"`
	Tags              []string          `json:"tags"`
	TagsDescriptions  map[string]string `json:"tags_descriptions"`
	Title             string            `json:"title"`
	PostsCount        int               `json:"posts_count"`
	CreatedAt         string            `json:"created_at"`
	Views             int               `json:"views"`
	ReplyCount        int               `json:"reply_count"`
	LikeCount         int               `json:"like_count"`
	LastPostedAt      *string           `json:"last_posted_at"`
	Visible           bool              `json:"visible"`
	Closed            bool              `json:"closed"`
	Archived          bool              `json:"archived"`
	Archetype         string            `json:"archetype"`
	Slug              string            `json:"slug"`
	WordCount         *int              `json:"word_count"`
	DeletedAt         *string           `json:"deleted_at"`
	UserID            *int64            `json:"user_id"`
	FeaturedLink      *string           `json:"featured_link"`
	ImageURL          *string           `json:"image_url"`
	CurrentPostNumber int               `json:"current_post_number"`
	HighestPostNumber int               `json:"highest_post_number"`
	ParticipantCount  int               `json:"participant_count"`
	Thumbnails        RawJSON           `json:"thumbnails"`
	VoteCount         int               `json:"vote_count"`
}

// RawJSON is an opaque JSON value that may be absent. Nil encodes as null and
// null decodes back to nil.
type RawJSON []byte

// MarshalJSON implements json.Marshaler.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// ParseTimestamp parses an ISO-8601 timestamp as emitted by the forum API.
// Values without a zone designator are treated as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", raw)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck
	}
	return t.UTC(), nil
}
